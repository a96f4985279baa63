package homie

import (
	"slices"
	"strconv"
	"strings"

	"github.com/nerrad567/homie-hub/internal/codec"
	"github.com/nerrad567/homie-hub/internal/color"
	"github.com/nerrad567/homie-hub/internal/device"
	"github.com/nerrad567/homie-hub/internal/infrastructure/mqtt"
)

// send queues a retained publish and records the topic for key.
func (d *Dispatcher) send(key, topic, payload string) {
	d.topics.Register(key, topic)
	if err := d.queue.Add(topic, []byte(payload), d.qos, true); err != nil {
		d.log().Debug("queueing homie publish", "topic", topic, "error", err)
	}
}

func (d *Dispatcher) publishRoot(attr, payload string) {
	d.send(rootKey, mqtt.JoinTopic(d.Base(), attr), payload)
}

func (d *Dispatcher) publishAttributes(s Settings) {
	base := s.Base()
	for _, kv := range [][2]string{
		{attrHomie, Version},
		{attrName, s.DisplayName()},
		{attrImplementation, Implementation},
		{attrExtensions, ""},
	} {
		d.send(rootKey, mqtt.JoinTopic(base, kv[0]), kv[1])
	}
}

// publishNodes announces the node inventory.
func (d *Dispatcher) publishNodes() {
	d.mu.RLock()
	ids := make([]string, 0, len(d.nodes))
	for _, n := range d.nodes {
		ids = append(ids, n.id)
	}
	applied := d.applied
	d.mu.RUnlock()
	if !applied {
		return
	}

	slices.Sort(ids)
	d.publishRoot(attrNodes, strings.Join(ids, ","))
}

// publishNode advertises the node and its properties, then broadcasts
// current values when configured.
func (d *Dispatcher) publishNode(n *node, dev *device.Device, s Settings) {
	key := n.deviceID
	d.send(key, mqtt.JoinTopic(n.topic, attrName), n.name)
	d.send(key, mqtt.JoinTopic(n.topic, attrType), n.class)
	d.send(key, mqtt.JoinTopic(n.topic, attrProperties), strings.Join(n.propertyIDs(), ","))

	for _, pid := range n.propertyIDs() {
		p := n.props[pid]
		d.send(key, mqtt.JoinTopic(p.Topic, attrName), p.Name)
		d.send(key, mqtt.JoinTopic(p.Topic, attrDatatype), string(p.Datatype))
		d.send(key, mqtt.JoinTopic(p.Topic, attrSettable), strconv.FormatBool(p.Settable))
		d.send(key, mqtt.JoinTopic(p.Topic, attrRetained), strconv.FormatBool(p.Retained))
		if p.Unit != "" {
			d.send(key, mqtt.JoinTopic(p.Topic, attrUnit), p.Unit)
		}
		if p.Format != "" {
			d.send(key, mqtt.JoinTopic(p.Topic, attrFormat), p.Format)
		}
	}

	if !s.Broadcast {
		return
	}
	if n.color.present() {
		d.publishColor(n, dev, s)
	}
	for _, capID := range dev.CapabilityIDs() {
		p, ok := n.byCap[capID]
		if !ok {
			continue
		}
		if v := dev.Capabilities[capID].Value; v != nil {
			d.send(key, p.Topic, codec.Format(v, p.capability, s.PercentageScale))
		}
	}
}

// colorOf computes the device's current color. Value comes from the
// temperature, then the dim level, then full brightness.
func colorOf(g colorGroup, dev *device.Device) color.HSV {
	value := func(id string) float64 {
		c, _ := dev.Capability(id)
		return codec.Float(c.Value)
	}

	var h, s, v float64
	if g.hue {
		h = value(device.CapLightHue)
	}
	switch {
	case g.saturation:
		s = value(device.CapLightSaturation)
	case g.hue:
		s = 1
	}
	switch {
	case g.temperature:
		v = value(device.CapLightTemperature)
	case g.dim:
		v = value(device.CapDim)
	default:
		v = 1
	}
	return color.FromNative(h, s, v)
}

// publishColor sends the primary color representation plus both the HSV
// and RGB forms.
func (d *Dispatcher) publishColor(n *node, dev *device.Device, s Settings) {
	p, ok := n.props[ColorPropertyID]
	if !ok {
		return
	}
	hsv := colorOf(n.color, dev)
	rgb := color.HSVToRGB(hsv)

	primary := hsv.String()
	if s.ColorFormat == ColorRGB {
		primary = rgb.String()
	}

	d.send(n.deviceID, p.Topic, primary)
	d.send(n.deviceID, mqtt.JoinTopic(n.topic, colorHSVLevel), hsv.String())
	d.send(n.deviceID, mqtt.JoinTopic(n.topic, colorRGBLevel), rgb.String())
}

// handleStateChange publishes a capability value change.
func (d *Dispatcher) handleStateChange(deviceID, capabilityID string, value any) {
	if value == nil {
		return
	}
	if !d.registry.IsRegistered(deviceID) || !d.registry.IsEnabled(deviceID) {
		return
	}

	d.mu.RLock()
	n, ok := d.nodes[deviceID]
	s := d.settings
	ctx := d.ctx
	d.mu.RUnlock()
	if !ok {
		return
	}

	if n.color.present() && device.IsColorCapability(capabilityID) {
		// Only hue and temperature recompute the color. Saturation on a
		// bulb with hue arrives alongside a hue change, and bulbs exposing
		// temperature without hue would otherwise publish twice.
		if capabilityID == device.CapLightSaturation {
			return
		}
		dev, err := d.platform.GetDevice(ctx, deviceID)
		if err != nil {
			d.log().Warn("fetching device for color update", "device_id", deviceID, "error", err)
			return
		}
		d.publishColor(n, dev, s)
		return
	}

	p, ok := n.byCap[capabilityID]
	if !ok {
		return
	}
	d.send(deviceID, p.Topic, codec.Format(value, p.capability, s.PercentageScale))
}
