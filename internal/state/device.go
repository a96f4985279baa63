package state

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/nerrad567/homie-hub/internal/codec"
	"github.com/nerrad567/homie-hub/internal/device"
	"github.com/nerrad567/homie-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/homie-hub/internal/platform"
	"github.com/nerrad567/homie-hub/internal/publish"
	"github.com/nerrad567/homie-hub/internal/topic"
)

// Legacy command levels.
const (
	commandState = "state"
	commandSet   = "set"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Subscriber is the MQTT surface used for inbound commands.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Recorder stores capability readings. *influxdb.Client satisfies it.
type Recorder interface {
	RecordValue(deviceID, capabilityID string, value any, tags map[string]string)
}

// DeviceConfig holds the dispatcher's collaborators and options.
type DeviceConfig struct {
	Registry   *device.Registry
	Platform   platform.Platform
	Queue      publish.Enqueuer
	Subscriber Subscriber

	// Root prefixes every topic. Empty means no prefix.
	Root  string
	OnOff codec.OnOffStyle
	QoS   byte

	// Recorder is optional.
	Recorder Recorder
}

type target struct {
	deviceID     string
	capabilityID string
}

type tracked struct {
	signature string
	class     string
	zone      string
	caps      map[string]device.Capability
	topics    map[string]string // capability id -> state topic
}

// DeviceDispatcher publishes capability values on the legacy topics.
//
// All public methods are thread-safe.
type DeviceDispatcher struct {
	registry   *device.Registry
	platform   platform.Platform
	queue      publish.Enqueuer
	subscriber Subscriber
	root       string
	onOff      codec.OnOffStyle
	qos        byte
	recorder   Recorder
	topics     *publish.TopicRegistry
	listeners  *platform.Listeners

	mu       sync.RWMutex
	devices  map[string]*tracked
	targets  map[string]target // state topic without command -> target
	ctx      context.Context
	started  bool
	filter   string
	unsubReg func()

	logger   Logger
	loggerMu sync.RWMutex
}

// NewDeviceDispatcher creates a dispatcher. Call Start to begin.
func NewDeviceDispatcher(cfg DeviceConfig) *DeviceDispatcher {
	style, _ := codec.ParseOnOffStyle(string(cfg.OnOff))
	return &DeviceDispatcher{
		registry:   cfg.Registry,
		platform:   cfg.Platform,
		queue:      cfg.Queue,
		subscriber: cfg.Subscriber,
		root:       strings.Trim(cfg.Root, "/"),
		onOff:      style,
		qos:        cfg.QoS,
		recorder:   cfg.Recorder,
		topics:     publish.NewTopicRegistry(cfg.Queue, cfg.QoS),
		listeners:  platform.NewListeners(),
		devices:    make(map[string]*tracked),
		targets:    make(map[string]target),
		ctx:        context.Background(),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *DeviceDispatcher) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
	d.topics.SetLogger(logger)
}

func (d *DeviceDispatcher) log() Logger {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	return d.logger
}

// Start publishes every enabled device, follows registry events and
// subscribes to {root}/+/+/+/+/set.
func (d *DeviceDispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.ctx = ctx
	d.mu.Unlock()

	unsub := d.registry.Subscribe(d.handleRegistryEvent)
	d.mu.Lock()
	d.unsubReg = unsub
	d.mu.Unlock()

	d.Sync(ctx)

	if d.subscriber == nil {
		return nil
	}
	w := mqtt.SingleLevelWildcard
	filter := mqtt.JoinTopic(d.root, w, w, w, w, commandSet)
	if err := d.subscriber.Subscribe(filter, d.qos, d.HandleMessage); err != nil {
		return fmt.Errorf("subscribing legacy commands: %w", err)
	}
	d.mu.Lock()
	d.filter = filter
	d.mu.Unlock()
	return nil
}

// Stop drops listeners and the command subscription. Retained state is
// left on the broker.
func (d *DeviceDispatcher) Stop() {
	d.mu.Lock()
	unsub := d.unsubReg
	d.unsubReg = nil
	filter := d.filter
	d.filter = ""
	d.started = false
	d.devices = make(map[string]*tracked)
	d.targets = make(map[string]target)
	d.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	d.listeners.DestroyAll()
	if filter != "" && d.subscriber != nil {
		if err := d.subscriber.Unsubscribe(filter); err != nil {
			d.log().Debug("unsubscribing legacy commands", "error", err)
		}
	}
}

// Sync reconciles the published devices with the registry's enablement:
// enabled devices missing a listener are added, disabled ones removed.
func (d *DeviceDispatcher) Sync(ctx context.Context) {
	for _, id := range d.registry.IDs() {
		d.mu.RLock()
		_, present := d.devices[id]
		d.mu.RUnlock()

		switch enabled := d.registry.IsEnabled(id); {
		case enabled && !present:
			d.addDevice(ctx, id)
		case !enabled && present:
			d.removeDevice(id)
		}
	}
}

// Topic returns the state topic of a device capability.
func (d *DeviceDispatcher) Topic(deviceID, capabilityID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.devices[deviceID]
	if !ok {
		return "", false
	}
	s, ok := t.topics[capabilityID]
	return s, ok
}

// DeviceCount returns how many devices are published.
func (d *DeviceDispatcher) DeviceCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.devices)
}

// HandleMessage writes an inbound .../{capability}/set payload to the
// platform. Unknown topics are dropped; only write failures are returned.
func (d *DeviceDispatcher) HandleMessage(wire string, payload []byte) error {
	d.mu.RLock()
	ctx := d.ctx
	d.mu.RUnlock()
	return d.handle(ctx, wire, payload)
}

func (d *DeviceDispatcher) handle(ctx context.Context, wire string, payload []byte) error {
	t, err := topic.Parse(wire, d.root)
	if err != nil || t.Command != commandSet {
		return nil
	}

	d.mu.RLock()
	tg, ok := d.targets[t.WithCommand("").String()]
	var c device.Capability
	if ok {
		c = d.devices[tg.deviceID].caps[tg.capabilityID]
	}
	d.mu.RUnlock()
	if !ok {
		d.log().Debug("legacy command for unknown target", "topic", wire)
		return nil
	}
	if !c.Setable {
		d.log().Warn("legacy command for read-only capability", "topic", wire)
		return nil
	}

	err = d.platform.WriteCapability(ctx, platform.Write{
		DeviceID:     tg.deviceID,
		CapabilityID: tg.capabilityID,
		Value:        codec.Parse(payload, c, codec.ScaleDefault),
	})
	if err != nil {
		d.log().Warn("capability write failed", "device_id", tg.deviceID, "capability", tg.capabilityID, "error", err)
		return fmt.Errorf("%w: %s/%s: %w", ErrWriteFailed, tg.deviceID, tg.capabilityID, err)
	}
	return nil
}

// SetValue writes a value addressed by device reference and capability.
// The reference may be an id, a name or a slug.
func (d *DeviceDispatcher) SetValue(ctx context.Context, ref, capabilityID, payload string) error {
	id, ok := d.registry.ResolveID(ref)
	if !ok {
		return fmt.Errorf("%w: device %q", ErrUnknownTarget, ref)
	}
	s, ok := d.Topic(id, capabilityID)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownTarget, id, capabilityID)
	}
	cmd := strings.TrimSuffix(s, commandState) + commandSet
	return d.handle(ctx, cmd, []byte(payload))
}

func (d *DeviceDispatcher) handleRegistryEvent(ev device.Event) {
	d.mu.RLock()
	ctx := d.ctx
	current, present := d.devices[ev.DeviceID]
	d.mu.RUnlock()

	switch ev.Type {
	case device.EventAdded:
		d.addDevice(ctx, ev.DeviceID)
	case device.EventRemoved:
		d.removeDevice(ev.DeviceID)
	case device.EventUpdated:
		if !present || ev.Device == nil {
			return
		}
		slug, _ := d.registry.Slug(ev.DeviceID)
		if current.signature == signature(ev.Device, slug) {
			return
		}
		d.removeDevice(ev.DeviceID)
		d.addDevice(ctx, ev.DeviceID)
	}
}

// signature captures everything that changes a device's topics.
func signature(dev *device.Device, slug string) string {
	ids := slices.Sorted(maps.Keys(dev.Capabilities))
	return strings.Join(append([]string{slug, dev.Class, dev.ZoneName()}, ids...), "\x00")
}

func (d *DeviceDispatcher) stateTopic(dev *device.Device, slug, capabilityID string) topic.Topic {
	return topic.New(d.root, dev.Class, dev.ZoneName(), slug, capabilityID, commandState)
}

func (d *DeviceDispatcher) addDevice(ctx context.Context, deviceID string) {
	if !d.registry.IsRegistered(deviceID) || !d.registry.IsEnabled(deviceID) {
		return
	}
	slug, _ := d.registry.Slug(deviceID)

	dev, err := d.platform.GetDevice(ctx, deviceID)
	if err != nil {
		d.log().Warn("fetching device for legacy topics", "device_id", deviceID, "error", err)
		return
	}

	t := &tracked{
		signature: signature(dev, slug),
		class:     dev.Class,
		zone:      dev.ZoneName(),
		caps:      maps.Clone(dev.Capabilities),
		topics:    make(map[string]string, len(dev.Capabilities)),
	}

	d.mu.Lock()
	if _, exists := d.devices[deviceID]; exists {
		d.mu.Unlock()
		return
	}
	for _, capID := range dev.CapabilityIDs() {
		st := d.stateTopic(dev, slug, capID)
		t.topics[capID] = st.String()
		d.targets[st.WithCommand("").String()] = target{deviceID: deviceID, capabilityID: capID}
	}
	d.devices[deviceID] = t
	d.mu.Unlock()

	for _, capID := range dev.CapabilityIDs() {
		capabilityID := capID
		sub, err := d.platform.OnCapabilityValueChange(deviceID, capabilityID, func(v any) {
			d.handleValue(deviceID, capabilityID, v)
		})
		if err != nil {
			d.log().Warn("listening to capability", "device_id", deviceID, "capability", capabilityID, "error", err)
			continue
		}
		d.listeners.Replace(deviceID, capabilityID, sub)

		if v := dev.Capabilities[capID].Value; v != nil {
			d.publishValue(deviceID, capID, v)
		}
	}
	d.log().Debug("legacy topics registered", "device_id", deviceID, "capabilities", len(t.topics))
}

func (d *DeviceDispatcher) removeDevice(deviceID string) {
	d.mu.Lock()
	t, ok := d.devices[deviceID]
	if ok {
		delete(d.devices, deviceID)
		for k, tg := range d.targets {
			if tg.deviceID == deviceID {
				delete(d.targets, k)
			}
		}
	}
	d.mu.Unlock()

	d.listeners.DestroyDevice(deviceID)
	d.topics.Remove(deviceID, true)
	if ok {
		d.log().Debug("legacy topics removed", "device_id", deviceID, "capabilities", len(t.topics))
	}
}

func (d *DeviceDispatcher) handleValue(deviceID, capabilityID string, value any) {
	if value == nil || !d.registry.IsEnabled(deviceID) {
		return
	}
	d.publishValue(deviceID, capabilityID, value)
}

func (d *DeviceDispatcher) publishValue(deviceID, capabilityID string, value any) {
	d.mu.RLock()
	t, ok := d.devices[deviceID]
	var st, class, zone string
	var c device.Capability
	if ok {
		st = t.topics[capabilityID]
		c = t.caps[capabilityID]
		class, zone = t.class, t.zone
	}
	d.mu.RUnlock()
	if st == "" {
		return
	}

	payload := codec.Format(value, c, codec.ScaleDefault)
	if c.Type == device.TypeBoolean {
		payload = codec.FormatOnOff(codec.Bool(value), d.onOff)
	}

	d.topics.Register(deviceID, st)
	if err := d.queue.Add(st, []byte(payload), d.qos, true); err != nil && !errors.Is(err, publish.ErrQueueClosed) {
		d.log().Warn("queueing legacy state", "topic", st, "error", err)
	}

	if d.recorder != nil {
		d.recorder.RecordValue(deviceID, capabilityID, value, map[string]string{
			"class": class,
			"zone":  zone,
		})
	}
}
