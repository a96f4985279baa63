package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/homie-hub/internal/audit"
	"github.com/nerrad567/homie-hub/internal/device"
	"github.com/nerrad567/homie-hub/internal/homie"
	"github.com/nerrad567/homie-hub/internal/infrastructure/config"
	"github.com/nerrad567/homie-hub/internal/infrastructure/logging"
	"github.com/nerrad567/homie-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/homie-hub/internal/platform"
	"github.com/nerrad567/homie-hub/internal/state"
)

const (
	homieState  = "homie/homey/$state"
	homieOnOff  = "homie/homey/living-room-light/onoff"
	legacyOnOff = "homey/light/living-room/living-room-light/onoff/state"
	systemTopic = "homey/system/state"
)

// fakeBroker keeps a retained store and routes delivered messages to
// matching subscriptions.
type fakeBroker struct {
	mu           sync.Mutex
	connected    bool
	retained     map[string]string
	subs         map[string]mqtt.MessageHandler
	onConnect    func()
	onDisconnect func(error)
	closed       bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		connected: true,
		retained:  make(map[string]string),
		subs:      make(map[string]mqtt.MessageHandler),
	}
}

func (b *fakeBroker) Publish(topic string, payload []byte, _ byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return mqtt.ErrNotConnected
	}
	if !retained {
		return nil
	}
	if len(payload) == 0 {
		delete(b.retained, topic)
		return nil
	}
	b.retained[topic] = string(payload)
	return nil
}

func (b *fakeBroker) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = h
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, topic)
	return nil
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) SetOnConnect(fn func()) {
	b.mu.Lock()
	b.onConnect = fn
	b.mu.Unlock()
}

func (b *fakeBroker) SetOnDisconnect(fn func(error)) {
	b.mu.Lock()
	b.onDisconnect = fn
	b.mu.Unlock()
}

func (b *fakeBroker) HealthCheck(context.Context) error {
	if !b.IsConnected() {
		return mqtt.ErrNotConnected
	}
	return nil
}

func (b *fakeBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.connected = false
	b.mu.Unlock()
	return nil
}

func (b *fakeBroker) get(topic string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.retained[topic]
	return v, ok
}

func (b *fakeBroker) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	b.mu.Lock()
	var handlers []mqtt.MessageHandler
	for filter, h := range b.subs {
		if mqtt.MatchTopic(filter, topic) {
			handlers = append(handlers, h)
		}
	}
	b.mu.Unlock()
	require.NotEmpty(t, handlers, "no subscription matches %s", topic)
	for _, h := range handlers {
		_ = h(topic, []byte(payload))
	}
}

func (b *fakeBroker) disconnect() {
	b.mu.Lock()
	b.connected = false
	fn := b.onDisconnect
	b.mu.Unlock()
	fn(errors.New("connection reset"))
}

func (b *fakeBroker) reconnect() {
	b.mu.Lock()
	b.connected = true
	fn := b.onConnect
	b.mu.Unlock()
	fn()
}

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

func testConfig(dbPath string) *config.Config {
	cfg := config.Default()
	cfg.Database.Path = dbPath
	cfg.Database.WALMode = false
	cfg.Queue.DelayMS = 1
	cfg.API.Enabled = false
	cfg.Legacy.Enabled = true
	cfg.HomeAssistant.Enabled = true
	return cfg
}

type fixture struct {
	hub      *Hub
	broker   *fakeBroker
	platform *platform.Memory
}

func newFixture(t *testing.T, cfg *config.Config, devices ...*device.Device) *fixture {
	t.Helper()
	mem := platform.NewMemory()
	for _, d := range devices {
		require.NoError(t, mem.AddDevice(d))
	}
	broker := newFakeBroker()

	h, err := New(context.Background(), cfg, Options{
		Version:  "test",
		Logger:   logging.Discard(),
		Platform: mem,
		Broker:   broker,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	require.NoError(t, h.Start(context.Background()))
	return &fixture{hub: h, broker: broker, platform: mem}
}

func (f *fixture) eventually(t *testing.T, topic, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, ok := f.broker.get(topic)
		return ok && got == want
	}, 2*time.Second, 5*time.Millisecond, "%s never became %q", topic, want)
}

func (f *fixture) eventuallyCleared(t *testing.T, topic string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := f.broker.get(topic)
		return !ok
	}, 2*time.Second, 5*time.Millisecond, "%s never cleared", topic)
}

func TestHub_PublishesOnConnect(t *testing.T) {
	f := newFixture(t, testConfig(":memory:"), livingRoomLight())

	f.eventually(t, homieState, homie.StateReady)
	f.eventually(t, homieOnOff, "false")
	f.eventually(t, legacyOnOff, "false")
	require.Eventually(t, func() bool {
		_, ok := f.broker.get(systemTopic)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	topics := f.hub.discovery.Topics("d1")
	require.NotEmpty(t, topics)
	for _, topic := range topics {
		var doc map[string]any
		require.NoError(t, json.Unmarshal([]byte(mustGet(t, f.broker, topic)), &doc))
		assert.Equal(t, homieOnOff, doc["state_topic"])
	}
	assert.NoError(t, f.hub.HealthCheck(context.Background()))
}

func mustGet(t *testing.T, b *fakeBroker, topic string) string {
	t.Helper()
	var v string
	require.Eventually(t, func() bool {
		var ok bool
		v, ok = b.get(topic)
		return ok
	}, 2*time.Second, 5*time.Millisecond, "%s never published", topic)
	return v
}

func TestHub_InboundCommands(t *testing.T) {
	f := newFixture(t, testConfig(":memory:"), livingRoomLight())
	f.eventually(t, homieState, homie.StateReady)

	f.broker.deliver(t, homieOnOff+"/set", "true")
	f.eventually(t, homieOnOff, "true")
	f.eventually(t, legacyOnOff, "true")

	f.broker.deliver(t, "homey/light/living-room/living-room-light/onoff/set", "false")
	f.eventually(t, homieOnOff, "false")

	writes := f.platform.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, true, writes[0].Value)
	assert.Equal(t, false, writes[1].Value)
}

func TestHub_FollowsPlatform(t *testing.T) {
	f := newFixture(t, testConfig(":memory:"), livingRoomLight())
	f.eventually(t, homieState, homie.StateReady)

	require.NoError(t, f.platform.AddDevice(&device.Device{
		ID:   "d2",
		Name: "Desk Fan",
		Capabilities: map[string]device.Capability{
			"onoff": {ID: "onoff", Type: device.TypeBoolean, Setable: true, Getable: true, Value: true},
		},
	}))
	f.eventually(t, "homie/homey/desk-fan/onoff", "true")

	f.platform.RemoveDevice("d2")
	f.eventuallyCleared(t, "homie/homey/desk-fan/onoff")
	assert.False(t, f.hub.Registry().IsRegistered("d2"))
}

func TestHub_QueuePausesWhileDisconnected(t *testing.T) {
	f := newFixture(t, testConfig(":memory:"), livingRoomLight())
	f.eventually(t, homieOnOff, "false")

	f.broker.disconnect()
	require.False(t, f.hub.queue.Running())

	require.NoError(t, f.platform.SetCapabilityValue("d1", "onoff", true))
	require.NoError(t, f.platform.SetCapabilityValue("d1", "onoff", false))
	require.NoError(t, f.platform.SetCapabilityValue("d1", "onoff", true))
	_, pending := f.hub.queue.Pending(homieOnOff)
	assert.True(t, pending)

	f.broker.reconnect()
	f.eventually(t, homieOnOff, "true")
	f.eventually(t, homieState, homie.StateReady)
}

func TestHub_SetDeviceEnabled(t *testing.T) {
	f := newFixture(t, testConfig(":memory:"), livingRoomLight())
	ctx := context.Background()
	f.eventually(t, homieOnOff, "false")

	require.NoError(t, f.hub.SetDeviceEnabled(ctx, "d1", false))
	f.eventuallyCleared(t, homieOnOff)
	f.eventuallyCleared(t, legacyOnOff)
	assert.Empty(t, f.hub.discovery.Topics("d1"))
	_, ok := f.hub.Node("d1")
	assert.False(t, ok)
	assert.Equal(t, map[string]bool{"d1": false}, f.hub.HomieSettings().Devices)

	require.NoError(t, f.hub.SetDeviceEnabled(ctx, "d1", true))
	f.eventually(t, homieOnOff, "false")
	f.eventually(t, legacyOnOff, "false")

	err := f.hub.SetDeviceEnabled(ctx, "missing", false)
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)
}

func TestHub_ApplyHomieSettings(t *testing.T) {
	f := newFixture(t, testConfig(":memory:"), livingRoomLight())
	ctx := context.Background()
	f.eventually(t, homieOnOff, "false")

	s := f.hub.HomieSettings()
	s.Name = "Renamed"
	rebuilt, err := f.hub.ApplyHomieSettings(ctx, s)
	require.NoError(t, err)
	assert.False(t, rebuilt)
	f.eventually(t, "homie/homey/$name", "Renamed")

	s.DeviceID = "hub2"
	rebuilt, err = f.hub.ApplyHomieSettings(ctx, s)
	require.NoError(t, err)
	assert.True(t, rebuilt)
	f.eventually(t, "homie/hub2/living-room-light/onoff", "false")
	f.eventuallyCleared(t, homieOnOff)

	s.ColorFormat = "xy"
	_, err = f.hub.ApplyHomieSettings(ctx, s)
	assert.ErrorIs(t, err, homie.ErrInvalidSettings)
	assert.Equal(t, "homie/hub2", f.hub.HomieSettings().Base())
}

func TestHub_SettingsSurviveRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hub.db")
	ctx := context.Background()

	first := newFixture(t, testConfig(dbPath), livingRoomLight())
	s := first.hub.HomieSettings()
	s.DeviceID = "stored"
	_, err := first.hub.ApplyHomieSettings(ctx, s)
	require.NoError(t, err)
	require.NoError(t, first.hub.SetDeviceEnabled(ctx, "d1", false))
	require.NoError(t, first.hub.Close())

	second := newFixture(t, testConfig(dbPath), livingRoomLight())
	got := second.hub.HomieSettings()
	assert.Equal(t, "homie/stored", got.Base())
	assert.Equal(t, map[string]bool{"d1": false}, got.Devices)
	assert.False(t, second.hub.Registry().IsEnabled("d1"))
	second.eventually(t, "homie/stored/$state", homie.StateReady)
	_, ok := second.broker.get("homie/stored/living-room-light/onoff")
	assert.False(t, ok)
}

func TestHub_ConfigOverridesWithoutStore(t *testing.T) {
	cfg := testConfig(":memory:")
	cfg.Devices = map[string]bool{"d1": false}
	f := newFixture(t, cfg, livingRoomLight())

	f.eventually(t, homieState, homie.StateReady)
	assert.False(t, f.hub.Registry().IsEnabled("d1"))
	_, ok := f.hub.Node("d1")
	assert.False(t, ok)
}

func TestHub_HomieDisabled(t *testing.T) {
	cfg := testConfig(":memory:")
	cfg.Homie.Enabled = false
	cfg.HomeAssistant.Enabled = false
	f := newFixture(t, cfg, livingRoomLight())

	f.eventually(t, legacyOnOff, "false")
	_, ok := f.broker.get(homieState)
	assert.False(t, ok)

	require.NoError(t, f.hub.SetDeviceEnabled(context.Background(), "d1", false))
	f.eventuallyCleared(t, legacyOnOff)
	assert.False(t, f.hub.Registry().IsEnabled("d1"))
}

func TestHub_Close(t *testing.T) {
	f := newFixture(t, testConfig(":memory:"), livingRoomLight())
	f.eventually(t, homieState, homie.StateReady)

	require.NoError(t, f.hub.Close())
	require.NoError(t, f.hub.Close())

	assert.True(t, f.broker.closed)
	// The final states are published before the broker closes.
	v, ok := f.broker.get(homieState)
	require.True(t, ok)
	assert.Equal(t, homie.StateDisconnected, v)

	raw, ok := f.broker.get(systemTopic)
	require.True(t, ok)
	var st state.SystemState
	require.NoError(t, json.Unmarshal([]byte(raw), &st))
	assert.Equal(t, state.StatusStopping, st.Status)
}

func TestHub_SystemState(t *testing.T) {
	f := newFixture(t, testConfig(":memory:"), livingRoomLight())

	st := f.hub.SystemState()
	assert.Equal(t, "homiehub", st.HubID)
	assert.Equal(t, "test", st.Version)
	assert.Equal(t, 1, st.Devices)
	assert.Equal(t, 1, st.EnabledDevices)
	assert.True(t, st.MQTTConnected)
}

func TestHub_API(t *testing.T) {
	cfg := testConfig(":memory:")
	cfg.API.Enabled = true
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 0
	f := newFixture(t, cfg, livingRoomLight())
	f.eventually(t, homieOnOff, "false")
	handler := f.hub.api.Handler()

	req := httptest.NewRequest(http.MethodPut, "/api/v1/devices/living-room-light/enabled", strings.NewReader(`{"enabled":false}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	f.eventuallyCleared(t, homieOnOff)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit?entity_id=d1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var changes audit.ListResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&changes))
	require.Len(t, changes.Entries, 1)
	assert.Equal(t, audit.ActionDisable, changes.Entries[0].Action)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
