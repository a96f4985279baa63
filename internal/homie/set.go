package homie

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/homie-hub/internal/codec"
	"github.com/nerrad567/homie-hub/internal/color"
	"github.com/nerrad567/homie-hub/internal/device"
	"github.com/nerrad567/homie-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/homie-hub/internal/platform"
)

// HandleMessage routes an inbound {base}/{node}/{property}/set message.
// Unknown targets and malformed payloads are logged and dropped; only
// platform write failures are returned.
func (d *Dispatcher) HandleMessage(topic string, payload []byte) error {
	levels, ok := mqtt.TrimTopicPrefix(topic, d.Base())
	if !ok || len(levels) != 3 || levels[2] != levelSet {
		return nil
	}

	d.mu.RLock()
	deviceID, known := d.byNodeID[levels[0]]
	ctx := d.ctx
	d.mu.RUnlock()
	if !known {
		d.log().Debug("command for unknown node", "topic", topic)
		return nil
	}

	err := d.SetValue(ctx, deviceID, levels[1], string(payload))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrWriteFailed):
		return err
	default:
		d.log().Warn("dropping homie command", "topic", topic, "error", err)
		return nil
	}
}

// SetValue writes an inbound property value to the platform. Commands
// for disabled devices are ignored.
func (d *Dispatcher) SetValue(ctx context.Context, deviceID, propertyID, payload string) error {
	if !d.registry.IsEnabled(deviceID) {
		d.log().Debug("ignoring command for disabled device", "device_id", deviceID)
		return nil
	}

	d.mu.RLock()
	n, ok := d.nodes[deviceID]
	var p *property
	if ok {
		p = n.props[propertyID]
	}
	s := d.settings
	d.mu.RUnlock()

	switch {
	case !ok:
		return fmt.Errorf("%w: device %s", ErrUnknownNode, deviceID)
	case p == nil:
		return fmt.Errorf("%w: %s/%s", ErrUnknownProperty, n.id, propertyID)
	case !p.Settable:
		return fmt.Errorf("%w: %s/%s", ErrNotSettable, n.id, propertyID)
	}

	if p.Datatype == DatatypeColor {
		return d.setColor(ctx, n, payload, s)
	}

	value := codec.Parse(payload, p.capability, s.PercentageScale)
	return d.write(ctx, deviceID, p.Capability, value)
}

// setColor accepts "h,s,v" (or "r,g,b" in rgb format), a Home Assistant
// style "h,s" or a single mired value. Hue is written last since that is
// what makes the bulb change visibly.
func (d *Dispatcher) setColor(ctx context.Context, n *node, payload string, s Settings) error {
	t := color.ParseTuple(payload)

	var hue, sat, temp *float64
	switch len(t) {
	case 3:
		hsv := color.HSV{H: t[0], S: t[1], V: t[2]}
		if s.ColorFormat == ColorRGB {
			hsv = color.RGBToHSV(color.RGB{R: t[0], G: t[1], B: t[2]})
		}
		h, sa, v := hsv.Native()
		hue, sat, temp = &h, &sa, &v
	case 2:
		h, sa, _ := color.HSV{H: t[0], S: t[1]}.Native()
		hue, sat = &h, &sa
	case 1:
		v := color.MiredToTemperature(t[0])
		temp = &v
	default:
		return fmt.Errorf("%w: color %q", ErrInvalidPayload, payload)
	}

	var errs []error
	for _, w := range []struct {
		present bool
		capID   string
		value   *float64
	}{
		{n.color.saturation, device.CapLightSaturation, sat},
		{n.color.temperature, device.CapLightTemperature, temp},
		{n.color.hue, device.CapLightHue, hue},
	} {
		if !w.present || w.value == nil {
			continue
		}
		c, _ := n.device.Capability(w.capID)
		value := codec.Parse(*w.value, c, codec.ScaleDefault)
		if err := d.write(ctx, n.deviceID, w.capID, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) write(ctx context.Context, deviceID, capabilityID string, value any) error {
	err := d.platform.WriteCapability(ctx, platform.Write{
		DeviceID:     deviceID,
		CapabilityID: capabilityID,
		Value:        value,
	})
	if err != nil {
		d.log().Warn("capability write failed", "device_id", deviceID, "capability", capabilityID, "error", err)
		return fmt.Errorf("%w: %s/%s: %w", ErrWriteFailed, deviceID, capabilityID, err)
	}
	return nil
}
