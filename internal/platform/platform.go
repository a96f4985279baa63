package platform

import (
	"context"
	"errors"

	"github.com/nerrad567/homie-hub/internal/device"
)

// Domain errors for the platform package.
var (
	// ErrCapabilityNotFound is returned when a device lacks the capability.
	ErrCapabilityNotFound = errors.New("platform: capability not found")

	// ErrNotSetable is returned when writing a read-only capability.
	ErrNotSetable = errors.New("platform: capability not setable")

	// ErrInvalidDevicesFile is returned when the devices file cannot be used.
	ErrInvalidDevicesFile = errors.New("platform: invalid devices file")
)

// Write is one capability write request.
type Write struct {
	DeviceID     string
	CapabilityID string
	Value        any
}

// Subscription is a handle for a registered listener.
// Destroy is idempotent.
type Subscription interface {
	Destroy()
}

// ValueHandler receives a capability's new value.
type ValueHandler func(value any)

// Platform is the device platform the hub bridges.
type Platform interface {
	device.Source

	// ListZones returns every zone known to the platform.
	ListZones(ctx context.Context) ([]device.Zone, error)

	// SubscribeDevices delivers device created/deleted/updated changes.
	SubscribeDevices(fn func(device.Change)) Subscription

	// OnCapabilityValueChange calls fn whenever the capability's value
	// changes upstream.
	OnCapabilityValueChange(deviceID, capabilityID string, fn ValueHandler) (Subscription, error)

	// WriteCapability asks the device to take a new value.
	WriteCapability(ctx context.Context, w Write) error
}

// SubscriptionFunc adapts a function to the Subscription interface.
type SubscriptionFunc func()

// Destroy calls f.
func (f SubscriptionFunc) Destroy() {
	if f != nil {
		f()
	}
}
