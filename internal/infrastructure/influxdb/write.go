package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the hub.
const (
	measurementCapability = "capability_value"
	measurementHub        = "hub_state"
)

// RecordValue stores one capability reading.
//
// Numbers land in the "value" field, booleans in "state" and everything
// else in "text", so each field keeps a single type across the series.
// tags adds low-cardinality labels such as zone and class.
func (c *Client) RecordValue(deviceID, capabilityID string, value any, tags map[string]string) {
	if !c.IsConnected() {
		return
	}

	fields := capabilityFields(value)
	if fields == nil {
		return
	}

	t := make(map[string]string, len(tags)+3)
	for k, v := range tags {
		if v != "" {
			t[k] = v
		}
	}
	if c.hubID != "" {
		t["hub_id"] = c.hubID
	}
	t["device_id"] = deviceID
	t["capability"] = capabilityID

	c.writeAPI.WritePoint(write.NewPoint(measurementCapability, t, fields, time.Now()))
	c.points.Add(1)
}

func capabilityFields(value any) map[string]any {
	switch v := value.(type) {
	case nil:
		return nil
	case bool:
		return map[string]any{"state": v}
	case float64:
		return map[string]any{"value": v}
	case float32:
		return map[string]any{"value": float64(v)}
	case int:
		return map[string]any{"value": float64(v)}
	case int64:
		return map[string]any{"value": float64(v)}
	case string:
		return map[string]any{"text": v}
	default:
		return nil
	}
}

// WriteHubState records a snapshot of hub counters (devices, queue depth).
func (c *Client) WriteHubState(hubID string, fields map[string]any) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		measurementHub,
		map[string]string{"hub_id": hubID},
		fields,
		time.Now(),
	))
	c.points.Add(1)
}
