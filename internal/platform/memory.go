package platform

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/nerrad567/homie-hub/internal/device"
)

// Memory is an in-process Platform.
//
// Device and value listeners are called synchronously, after the lock is
// released, on the goroutine that caused the change.
//
// All public methods are thread-safe.
type Memory struct {
	mu         sync.RWMutex
	zones      map[string]device.Zone
	devices    map[string]*device.Device
	valueSubs  map[listenerKey]map[int]ValueHandler
	deviceSubs map[int]func(device.Change)
	nextSub    int
	writes     []Write
}

var _ Platform = (*Memory)(nil)

// NewMemory creates an empty platform.
func NewMemory() *Memory {
	return &Memory{
		zones:      make(map[string]device.Zone),
		devices:    make(map[string]*device.Device),
		valueSubs:  make(map[listenerKey]map[int]ValueHandler),
		deviceSubs: make(map[int]func(device.Change)),
	}
}

// ListDevices returns copies of every device, sorted by id.
func (m *Memory) ListDevices(_ context.Context) ([]*device.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*device.Device, 0, len(m.devices))
	for _, id := range slices.Sorted(maps.Keys(m.devices)) {
		out = append(out, m.devices[id].DeepCopy())
	}
	return out, nil
}

// GetDevice returns a copy of one device.
func (m *Memory) GetDevice(_ context.Context, id string) (*device.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, id)
	}
	return d.DeepCopy(), nil
}

// ListZones returns every zone, sorted by id.
func (m *Memory) ListZones(_ context.Context) ([]device.Zone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]device.Zone, 0, len(m.zones))
	for _, id := range slices.Sorted(maps.Keys(m.zones)) {
		out = append(out, m.zones[id])
	}
	return out, nil
}

// AddZone adds or replaces a zone.
func (m *Memory) AddZone(z device.Zone) {
	m.mu.Lock()
	m.zones[z.ID] = z
	m.mu.Unlock()
}

// SubscribeDevices registers fn for device lifecycle changes.
func (m *Memory) SubscribeDevices(fn func(device.Change)) Subscription {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.deviceSubs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return SubscriptionFunc(func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.deviceSubs, id)
			m.mu.Unlock()
		})
	})
}

// OnCapabilityValueChange registers fn for value changes of one capability.
func (m *Memory) OnCapabilityValueChange(deviceID, capabilityID string, fn ValueHandler) (Subscription, error) {
	key := listenerKey{deviceID, capabilityID}

	m.mu.Lock()
	if err := m.checkCapabilityLocked(deviceID, capabilityID); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	id := m.nextSub
	m.nextSub++
	if m.valueSubs[key] == nil {
		m.valueSubs[key] = make(map[int]ValueHandler)
	}
	m.valueSubs[key][id] = fn
	m.mu.Unlock()

	var once sync.Once
	return SubscriptionFunc(func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.valueSubs[key], id)
			if len(m.valueSubs[key]) == 0 {
				delete(m.valueSubs, key)
			}
			m.mu.Unlock()
		})
	}), nil
}

// ValueListenerCount returns the number of live listeners for a pair.
func (m *Memory) ValueListenerCount(deviceID, capabilityID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.valueSubs[listenerKey{deviceID, capabilityID}])
}

// WriteCapability records the write, stores the value and notifies
// value listeners as a device acknowledging the change would.
func (m *Memory) WriteCapability(_ context.Context, w Write) error {
	m.mu.Lock()
	if err := m.checkCapabilityLocked(w.DeviceID, w.CapabilityID); err != nil {
		m.mu.Unlock()
		return err
	}
	if !m.devices[w.DeviceID].Capabilities[w.CapabilityID].Setable {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", ErrNotSetable, w.DeviceID, w.CapabilityID)
	}
	m.writes = append(m.writes, w)
	handlers := m.setValueLocked(w.DeviceID, w.CapabilityID, w.Value)
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(w.Value)
	}
	return nil
}

// SetCapabilityValue stores a value reported by the device and notifies
// value listeners.
func (m *Memory) SetCapabilityValue(deviceID, capabilityID string, value any) error {
	m.mu.Lock()
	if err := m.checkCapabilityLocked(deviceID, capabilityID); err != nil {
		m.mu.Unlock()
		return err
	}
	handlers := m.setValueLocked(deviceID, capabilityID, value)
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(value)
	}
	return nil
}

// Writes returns every accepted write in call order.
func (m *Memory) Writes() []Write {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.writes)
}

// ResetWrites forgets recorded writes.
func (m *Memory) ResetWrites() {
	m.mu.Lock()
	m.writes = nil
	m.mu.Unlock()
}

// AddDevice stores a device and announces it as created, or as updated
// when the id already exists.
func (m *Memory) AddDevice(d *device.Device) error {
	if err := device.ValidateDevice(d); err != nil {
		return err
	}
	cpy := d.DeepCopy()
	for id, c := range cpy.Capabilities {
		if c.ID == "" {
			c.ID = id
			cpy.Capabilities[id] = c
		}
	}

	m.mu.Lock()
	_, exists := m.devices[d.ID]
	m.devices[d.ID] = cpy
	if cpy.Zone != nil && cpy.Zone.ID != "" {
		if _, ok := m.zones[cpy.Zone.ID]; !ok {
			m.zones[cpy.Zone.ID] = *cpy.Zone
		}
	}
	subs := m.deviceSubsLocked()
	m.mu.Unlock()

	kind := device.ChangeCreated
	if exists {
		kind = device.ChangeUpdated
	}
	for _, fn := range subs {
		fn(device.Change{Kind: kind, DeviceID: d.ID})
	}
	return nil
}

// RemoveDevice deletes a device and announces it. Value listeners of the
// device stay registered but never fire again.
func (m *Memory) RemoveDevice(id string) bool {
	m.mu.Lock()
	if _, ok := m.devices[id]; !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.devices, id)
	subs := m.deviceSubsLocked()
	m.mu.Unlock()

	for _, fn := range subs {
		fn(device.Change{Kind: device.ChangeDeleted, DeviceID: id})
	}
	return true
}

// Len returns the number of devices.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

func (m *Memory) checkCapabilityLocked(deviceID, capabilityID string) error {
	d, ok := m.devices[deviceID]
	if !ok {
		return fmt.Errorf("%w: %s", device.ErrDeviceNotFound, deviceID)
	}
	if _, ok := d.Capabilities[capabilityID]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrCapabilityNotFound, deviceID, capabilityID)
	}
	return nil
}

// setValueLocked stores the value and returns the handlers to notify.
func (m *Memory) setValueLocked(deviceID, capabilityID string, value any) []ValueHandler {
	d := m.devices[deviceID]
	c := d.Capabilities[capabilityID]
	c.Value = value
	d.Capabilities[capabilityID] = c

	subs := m.valueSubs[listenerKey{deviceID, capabilityID}]
	out := make([]ValueHandler, 0, len(subs))
	for _, id := range slices.Sorted(maps.Keys(subs)) {
		out = append(out, subs[id])
	}
	return out
}

func (m *Memory) deviceSubsLocked() []func(device.Change) {
	out := make([]func(device.Change), 0, len(m.deviceSubs))
	for _, id := range slices.Sorted(maps.Keys(m.deviceSubs)) {
		out = append(out, m.deviceSubs[id])
	}
	return out
}
