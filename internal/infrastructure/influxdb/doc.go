// Package influxdb records capability history to InfluxDB v2.
//
// It wraps influxdb-client-go with a non-blocking batched writer. The
// state dispatcher feeds every capability report through RecordValue,
// and the system state loop writes hub counters through WriteHubState.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Hub.ID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // history off
//	}
//	defer client.Close()
//
//	client.RecordValue("lamp-1", "dim", 0.5, map[string]string{"zone": "kitchen"})
package influxdb
