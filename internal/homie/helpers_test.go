package homie

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/homie-hub/internal/device"
	"github.com/nerrad567/homie-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/homie-hub/internal/platform"
)

// brokerQueue applies queued publishes immediately to a map that mirrors
// the broker's retained store.
type brokerQueue struct {
	mu       sync.Mutex
	retained map[string]string
	log      []string
}

func newBrokerQueue() *brokerQueue {
	return &brokerQueue{retained: make(map[string]string)}
}

func (q *brokerQueue) Add(topic string, payload []byte, _ byte, _ bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.log = append(q.log, topic)
	if len(payload) == 0 {
		delete(q.retained, topic)
		return nil
	}
	q.retained[topic] = string(payload)
	return nil
}

func (q *brokerQueue) Remove(string) bool { return false }

func (q *brokerQueue) get(topic string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	v, ok := q.retained[topic]
	return v, ok
}

func (q *brokerQueue) under(prefix string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for t := range q.retained {
		if strings.HasPrefix(t, prefix) {
			out = append(out, t)
		}
	}
	return out
}

func (q *brokerQueue) count(topic string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, t := range q.log {
		if t == topic {
			n++
		}
	}
	return n
}

type fakeTransport struct {
	mu        sync.Mutex
	subs      map[string]mqtt.MessageHandler
	unsubbed  []string
	published map[string]string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: make(map[string]mqtt.MessageHandler), published: make(map[string]string)}
}

func (f *fakeTransport) Publish(topic string, payload []byte, _ byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = string(payload)
	return nil
}

func (f *fakeTransport) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = h
	return nil
}

func (f *fakeTransport) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, topic)
	f.unsubbed = append(f.unsubbed, topic)
	return nil
}

func (f *fakeTransport) subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[topic]
	return ok
}

func ptr[T any](v T) *T { return &v }

func livingRoomLight() *device.Device {
	return &device.Device{
		ID:    "d1",
		Name:  "Living Room Light",
		Class: "light",
		Zone:  &device.Zone{ID: "z1", Name: "Living Room"},
		Capabilities: map[string]device.Capability{
			"onoff": {ID: "onoff", Type: device.TypeBoolean, Setable: true, Getable: true, Value: false},
		},
	}
}

func colorBulb() *device.Device {
	num := func(id string, v float64) device.Capability {
		return device.Capability{
			ID: id, Type: device.TypeNumber, Min: ptr(0.0), Max: ptr(1.0), Decimals: ptr(4),
			Setable: true, Getable: true, Value: v,
		}
	}
	dim := num(device.CapDim, 0.8)
	dim.Units = "%"
	return &device.Device{
		ID:    "bulb",
		Name:  "Hall Bulb",
		Class: "light",
		Capabilities: map[string]device.Capability{
			device.CapOnOff:            {ID: device.CapOnOff, Type: device.TypeBoolean, Setable: true, Value: true},
			device.CapDim:              dim,
			device.CapLightHue:         num(device.CapLightHue, 0.5),
			device.CapLightSaturation:  num(device.CapLightSaturation, 0.5),
			device.CapLightTemperature: num(device.CapLightTemperature, 0.5),
		},
	}
}

type harness struct {
	ctx       context.Context
	platform  *platform.Memory
	registry  *device.Registry
	queue     *brokerQueue
	transport *fakeTransport
	d         *Dispatcher
}

func newHarness(t *testing.T, devices ...*device.Device) *harness {
	t.Helper()
	h := &harness{
		ctx:       context.Background(),
		platform:  platform.NewMemory(),
		registry:  device.NewRegistry(),
		queue:     newBrokerQueue(),
		transport: newFakeTransport(),
	}
	for _, d := range devices {
		require.NoError(t, h.platform.AddDevice(d))
	}
	require.NoError(t, h.registry.Sync(h.ctx, h.platform))
	h.platform.SubscribeDevices(func(ch device.Change) {
		_ = h.registry.HandleChange(h.ctx, h.platform, ch)
	})

	h.d = New(Config{
		Registry:  h.registry,
		Platform:  h.platform,
		Queue:     h.queue,
		Transport: h.transport,
		QoS:       1,
	})
	t.Cleanup(func() { _ = h.d.Close() })
	return h
}

func (h *harness) init(t *testing.T, s Settings) {
	t.Helper()
	_, err := h.d.Init(h.ctx, s)
	require.NoError(t, err)
	require.NoError(t, h.d.Start(h.ctx))
}
