package homie

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/nerrad567/homie-hub/internal/device"
	"github.com/nerrad567/homie-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/homie-hub/internal/platform"
	"github.com/nerrad567/homie-hub/internal/publish"
)

// rootKey groups the device-level attribute topics in the topic registry.
const rootKey = "$root"

// Logger defines the logging interface used by the Dispatcher.
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

// Transport is the MQTT client surface the dispatcher uses directly.
// Value publishes go through the queue instead.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Config holds the dispatcher's collaborators.
type Config struct {
	Registry  *device.Registry
	Platform  platform.Platform
	Queue     publish.Enqueuer
	Transport Transport
	QoS       byte
}

// NodeEventType distinguishes node notifications.
type NodeEventType int

// Node event types.
const (
	NodeAdded NodeEventType = iota + 1
	NodeRemoved
)

// NodeEvent is delivered to OnNodeChange observers.
type NodeEvent struct {
	Type NodeEventType
	Node Node
}

// Dispatcher maintains the Homie tree for the registry's enabled devices.
//
// No lock is held while calling the platform, the queue, the transport or
// observers.
//
// All public methods are thread-safe.
type Dispatcher struct {
	registry  *device.Registry
	platform  platform.Platform
	queue     publish.Enqueuer
	transport Transport
	qos       byte
	topics    *publish.TopicRegistry
	listeners *platform.Listeners

	mu        sync.RWMutex
	settings  Settings
	applied   bool
	nodes     map[string]*node // by device id
	byNodeID  map[string]string
	pending   map[string]bool
	gen       uint64
	ctx       context.Context
	started   bool
	closed    bool
	filter    string
	unsubReg  func()
	observers map[int]func(NodeEvent)
	nextObs   int

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a dispatcher. Call Init to apply settings and Start to
// follow registry events and inbound commands.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		registry:  cfg.Registry,
		platform:  cfg.Platform,
		queue:     cfg.Queue,
		transport: cfg.Transport,
		qos:       cfg.QoS,
		topics:    publish.NewTopicRegistry(cfg.Queue, cfg.QoS),
		listeners: platform.NewListeners(),
		nodes:     make(map[string]*node),
		byNodeID:  make(map[string]string),
		pending:   make(map[string]bool),
		ctx:       context.Background(),
		observers: make(map[int]func(NodeEvent)),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
	d.topics.SetLogger(logger)
}

func (d *Dispatcher) log() Logger {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	return d.logger
}

// Settings returns the applied settings.
func (d *Dispatcher) Settings() Settings {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s := d.settings
	s.Devices = maps.Clone(s.Devices)
	return s
}

// Base returns the applied base topic.
func (d *Dispatcher) Base() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.settings.Base()
}

// Init applies settings. The first call, and any call that changes the
// shape of the tree, tears the tree down and rebuilds it. Otherwise only
// the devices whose enablement changed are added or removed.
//
// It reports whether a rebuild happened.
func (d *Dispatcher) Init(ctx context.Context, s Settings) (rebuilt bool, err error) {
	if err := s.Validate(); err != nil {
		return false, err
	}
	s.Devices = maps.Clone(s.Devices)

	d.mu.Lock()
	prev := d.settings
	wasApplied := d.applied
	rebuild := !wasApplied || prev.shape() != s.shape()
	d.settings = s
	d.applied = true
	d.mu.Unlock()

	if !rebuild {
		changes := d.registry.ComputeChanges(s.Devices)
		for _, id := range changes.Disabled {
			d.DisableDevice(id)
		}
		for _, id := range changes.Enabled {
			d.EnableDevice(ctx, id)
		}
		if prev.DisplayName() != s.DisplayName() {
			d.publishRoot(attrName, s.DisplayName())
		}
		d.log().Info("homie settings applied", "enabled", len(changes.Enabled), "disabled", len(changes.Disabled))
		return false, nil
	}

	d.teardown(wasApplied)
	d.applyEnablement(s.Devices)
	d.resubscribe(s.Base())

	d.publishRoot(attrState, StateInit)
	d.publishAttributes(s)
	for _, id := range d.registry.IDs() {
		d.registerDevice(ctx, id)
	}
	d.publishNodes()
	d.publishRoot(attrState, StateReady)

	d.log().Info("homie tree built", "base", s.Base(), "nodes", d.NodeCount())
	return true, nil
}

// applyEnablement makes the registry match desired, with devices that
// have no entry reverting to enabled.
func (d *Dispatcher) applyEnablement(desired map[string]bool) {
	changes := d.registry.ComputeChanges(desired)
	for _, id := range changes.Enabled {
		d.registry.SetEnabled(id, true)
	}
	for _, id := range changes.Disabled {
		d.registry.SetEnabled(id, false)
	}
}

// Start follows registry events and subscribes to inbound commands.
// ctx bounds platform calls made from event handlers.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started || d.closed {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.ctx = ctx
	base := d.settings.Base()
	applied := d.applied
	d.mu.Unlock()

	unsub := d.registry.Subscribe(d.handleRegistryEvent)
	d.mu.Lock()
	d.unsubReg = unsub
	d.mu.Unlock()

	if applied {
		d.resubscribe(base)
	}
	return nil
}

// resubscribe moves the inbound command subscription to base.
func (d *Dispatcher) resubscribe(base string) {
	filter := mqtt.JoinTopic(base, mqtt.SingleLevelWildcard, mqtt.SingleLevelWildcard, levelSet)

	d.mu.Lock()
	old := d.filter
	started := d.started
	if started {
		d.filter = filter
	}
	d.mu.Unlock()

	if !started || d.transport == nil || old == filter {
		return
	}
	if old != "" {
		if err := d.transport.Unsubscribe(old); err != nil {
			d.log().Warn("unsubscribing homie commands", "topic", old, "error", err)
		}
	}
	if err := d.transport.Subscribe(filter, d.qos, d.HandleMessage); err != nil {
		d.log().Error("subscribing homie commands", "topic", filter, "error", err)
	}
}

// Announce publishes the device attributes and the ready state. Called
// after every (re)connect.
func (d *Dispatcher) Announce() {
	d.mu.RLock()
	s := d.settings
	applied := d.applied
	d.mu.RUnlock()
	if !applied {
		return
	}

	d.publishAttributes(s)
	d.publishNodes()
	d.publishRoot(attrState, StateReady)
}

// Close stops following events, drops every listener and marks the
// device disconnected. The state is sent directly since the queue may
// be closing too.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	unsub := d.unsubReg
	filter := d.filter
	base := d.settings.Base()
	applied := d.applied
	d.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	d.listeners.DestroyAll()

	if d.transport == nil {
		return nil
	}
	if filter != "" {
		if err := d.transport.Unsubscribe(filter); err != nil {
			d.log().Debug("unsubscribing homie commands", "error", err)
		}
	}
	if !applied {
		return nil
	}
	return d.transport.Publish(mqtt.JoinTopic(base, attrState), []byte(StateDisconnected), d.qos, true)
}

// EnableDevice enables a device and adds its node.
func (d *Dispatcher) EnableDevice(ctx context.Context, deviceID string) {
	d.registry.SetEnabled(deviceID, true)
	if d.registerDevice(ctx, deviceID) {
		d.publishNodes()
	}
}

// DisableDevice disables a device, removes its node and clears its
// retained topics. Sibling nodes are untouched.
func (d *Dispatcher) DisableDevice(deviceID string) {
	d.registry.SetEnabled(deviceID, false)
	d.removeDevice(deviceID, true)
	d.publishNodes()
}

// Nodes returns a snapshot of every node, sorted by id.
func (d *Dispatcher) Nodes() []Node {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Node, 0, len(d.nodes))
	for _, n := range d.nodes {
		out = append(out, n.snapshot())
	}
	slices.SortFunc(out, func(a, b Node) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Node returns the node of a device.
func (d *Dispatcher) Node(deviceID string) (Node, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.nodes[deviceID]
	if !ok {
		return Node{}, false
	}
	return n.snapshot(), true
}

// NodeCount returns the number of nodes.
func (d *Dispatcher) NodeCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.nodes)
}

// OnNodeChange registers fn for node additions and removals.
func (d *Dispatcher) OnNodeChange(fn func(NodeEvent)) (unsubscribe func()) {
	d.mu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.observers, id)
			d.mu.Unlock()
		})
	}
}

func (d *Dispatcher) notify(ev NodeEvent) {
	d.mu.RLock()
	obs := make([]func(NodeEvent), 0, len(d.observers))
	for _, k := range slices.Sorted(maps.Keys(d.observers)) {
		obs = append(obs, d.observers[k])
	}
	d.mu.RUnlock()

	for _, fn := range obs {
		fn(ev)
	}
}

func (d *Dispatcher) handleRegistryEvent(ev device.Event) {
	d.mu.RLock()
	ctx := d.ctx
	applied := d.applied
	closed := d.closed
	d.mu.RUnlock()
	if !applied || closed {
		return
	}

	switch ev.Type {
	case device.EventAdded:
		if d.registerDevice(ctx, ev.DeviceID) {
			d.publishNodes()
		}

	case device.EventRemoved:
		if d.removeDevice(ev.DeviceID, true) {
			d.publishNodes()
		}

	case device.EventUpdated:
		d.mu.RLock()
		n, ok := d.nodes[ev.DeviceID]
		d.mu.RUnlock()
		if !ok || ev.Device == nil || sameShape(n.device, ev.Device) {
			return
		}
		d.log().Debug("device shape changed, rebuilding node", "device_id", ev.DeviceID)
		d.removeDevice(ev.DeviceID, true)
		d.registerDevice(ctx, ev.DeviceID)
		d.publishNodes()
	}
}

// teardown removes every node. With clear the retained topics, including
// the device attributes, are erased from the broker.
func (d *Dispatcher) teardown(clear bool) {
	d.mu.Lock()
	ids := slices.Sorted(maps.Keys(d.nodes))
	d.gen++
	d.mu.Unlock()

	for _, id := range ids {
		d.removeDevice(id, clear)
	}
	d.topics.Remove(rootKey, clear)
}

// registerDevice adds the node for deviceID. It is a no-op for unknown,
// disabled or already present devices and reports whether a node was
// added.
func (d *Dispatcher) registerDevice(ctx context.Context, deviceID string) bool {
	if !d.registry.IsRegistered(deviceID) {
		return false
	}
	if !d.registry.IsEnabled(deviceID) {
		return false
	}
	slug, _ := d.registry.Slug(deviceID)

	d.mu.Lock()
	if _, exists := d.nodes[deviceID]; exists || d.pending[deviceID] || d.closed {
		d.mu.Unlock()
		return false
	}
	d.pending[deviceID] = true
	gen := d.gen
	s := d.settings
	d.mu.Unlock()

	dev, err := d.platform.GetDevice(ctx, deviceID)

	d.mu.Lock()
	delete(d.pending, deviceID)
	if err != nil {
		d.mu.Unlock()
		d.log().Warn("fetching device for homie node", "device_id", deviceID, "error", err)
		return false
	}
	if gen != d.gen {
		d.mu.Unlock()
		return false
	}
	n := buildNode(dev, slug, s.Base(), s)
	if other, taken := d.byNodeID[n.id]; taken && other != deviceID {
		d.mu.Unlock()
		d.log().Warn("node id already in use", "device_id", deviceID, "node", n.id, "owner", other)
		return false
	}
	d.nodes[deviceID] = n
	d.byNodeID[n.id] = deviceID
	d.mu.Unlock()

	d.publishNode(n, dev, s)
	d.listen(n)

	// The node may have been removed while unlocked. Undo what was
	// attached after the removal unless a newer node owns the device.
	d.mu.RLock()
	current, exists := d.nodes[deviceID]
	closed := d.closed
	d.mu.RUnlock()
	if current != n {
		if !exists {
			d.listeners.DestroyDevice(deviceID)
			d.topics.Remove(deviceID, !closed)
		}
		return false
	}
	d.notify(NodeEvent{Type: NodeAdded, Node: n.snapshot()})

	d.log().Debug("homie node registered", "device_id", deviceID, "node", n.id, "properties", len(n.props))
	return true
}

// removeDevice drops a device's node, its listeners and its topics. It
// reports whether a node existed.
func (d *Dispatcher) removeDevice(deviceID string, clear bool) bool {
	d.mu.Lock()
	n, ok := d.nodes[deviceID]
	if ok {
		delete(d.nodes, deviceID)
		if d.byNodeID[n.id] == deviceID {
			delete(d.byNodeID, n.id)
		}
	}
	d.mu.Unlock()

	d.listeners.DestroyDevice(deviceID)
	d.topics.Remove(deviceID, clear)
	if !ok {
		return false
	}

	d.notify(NodeEvent{Type: NodeRemoved, Node: n.snapshot()})
	d.log().Debug("homie node removed", "device_id", deviceID, "node", n.id)
	return true
}

// listen attaches a value listener to every capability the node shows.
func (d *Dispatcher) listen(n *node) {
	caps := slices.Collect(maps.Keys(n.byCap))
	caps = append(caps, n.color.capabilities()...)
	slices.Sort(caps)

	for _, capID := range caps {
		deviceID, capabilityID := n.deviceID, capID
		sub, err := d.platform.OnCapabilityValueChange(deviceID, capabilityID, func(v any) {
			d.handleStateChange(deviceID, capabilityID, v)
		})
		if err != nil {
			d.log().Warn("listening to capability", "device_id", deviceID, "capability", capabilityID, "error", err)
			continue
		}
		d.listeners.Replace(deviceID, capabilityID, sub)
	}
}
