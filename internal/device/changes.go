package device

import (
	"context"
	"errors"
	"fmt"
)

// ChangeKind is a platform-side device lifecycle change.
type ChangeKind string

// Platform change kinds.
const (
	ChangeCreated ChangeKind = "created"
	ChangeDeleted ChangeKind = "deleted"
	ChangeUpdated ChangeKind = "updated"
)

// Change announces that a platform device was created, deleted or updated.
type Change struct {
	Kind     ChangeKind
	DeviceID string
}

// HandleChange applies a platform change, fetching the current device
// from src for creations and updates. A device that vanished between the
// event and the fetch is unregistered.
func (r *Registry) HandleChange(ctx context.Context, src Source, ch Change) error {
	switch ch.Kind {
	case ChangeDeleted:
		r.Unregister(ch.DeviceID)
		return nil

	case ChangeCreated, ChangeUpdated:
		d, err := src.GetDevice(ctx, ch.DeviceID)
		if errors.Is(err, ErrDeviceNotFound) {
			r.Unregister(ch.DeviceID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetching device %s: %w", ch.DeviceID, err)
		}
		if ch.Kind == ChangeCreated {
			r.Register(d)
		} else {
			r.Update(d)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown change kind %q", ErrInvalidDevice, ch.Kind)
	}
}
