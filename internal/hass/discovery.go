package hass

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/nerrad567/homie-hub/internal/homie"
	"github.com/nerrad567/homie-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/homie-hub/internal/publish"
)

// DefaultPrefix is Home Assistant's default discovery prefix.
const DefaultPrefix = "homeassistant"

// Logger defines the logging interface used by Discovery.
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

// NodeSource is the Homie dispatcher surface discovery follows.
// *homie.Dispatcher satisfies it.
type NodeSource interface {
	Nodes() []homie.Node
	Settings() homie.Settings
	OnNodeChange(fn func(homie.NodeEvent)) (unsubscribe func())
}

// Config holds the collaborators of Discovery.
type Config struct {
	Source NodeSource
	Queue  publish.Enqueuer
	Prefix string
	QoS    byte
}

// Discovery publishes and retracts discovery documents.
//
// All public methods are thread-safe.
type Discovery struct {
	source NodeSource
	queue  publish.Enqueuer
	prefix string
	qos    byte
	topics *publish.TopicRegistry

	mu    sync.Mutex
	unsub func()

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a Discovery. Call Start to begin publishing.
func New(cfg Config) *Discovery {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Discovery{
		source: cfg.Source,
		queue:  cfg.Queue,
		prefix: prefix,
		qos:    cfg.QoS,
		topics: publish.NewTopicRegistry(cfg.Queue, cfg.QoS),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for discovery.
func (d *Discovery) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
	d.topics.SetLogger(logger)
}

func (d *Discovery) log() Logger {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	return d.logger
}

// Start publishes documents for the current nodes and follows node
// changes. Later calls are no-ops.
func (d *Discovery) Start() {
	d.mu.Lock()
	if d.unsub != nil {
		d.mu.Unlock()
		return
	}
	d.unsub = d.source.OnNodeChange(d.handleNodeEvent)
	d.mu.Unlock()

	d.Republish()
}

// Stop stops following node changes. With clear every published document
// is removed from the broker.
func (d *Discovery) Stop(clear bool) {
	d.mu.Lock()
	unsub := d.unsub
	d.unsub = nil
	d.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	d.topics.RemoveAll(clear)
}

// Republish sends the documents of every current node. Called after a
// reconnect since Home Assistant may have restarted.
func (d *Discovery) Republish() {
	s := d.source.Settings()
	for _, n := range d.source.Nodes() {
		d.publishNode(n, s)
	}
}

// Topics returns the discovery topics published for a device.
func (d *Discovery) Topics(deviceID string) []string {
	return d.topics.Topics(deviceID)
}

// ConfigTopic returns the discovery topic of an entity.
func (d *Discovery) ConfigTopic(c Component, nodeID, propertyID string) string {
	return mqtt.JoinTopic(d.prefix, string(c), nodeID, propertyID, "config")
}

func (d *Discovery) handleNodeEvent(ev homie.NodeEvent) {
	switch ev.Type {
	case homie.NodeAdded:
		d.publishNode(ev.Node, d.source.Settings())
	case homie.NodeRemoved:
		removed := d.topics.Remove(ev.Node.DeviceID, true)
		d.log().Debug("discovery removed", "node", ev.Node.ID, "entities", len(removed))
	}
}

func (d *Discovery) publishNode(n homie.Node, s homie.Settings) {
	for _, e := range entities(n, s) {
		payload, err := json.Marshal(e)
		if err != nil {
			d.log().Warn("encoding discovery document", "node", n.ID, "property", e.property, "error", err)
			continue
		}
		topic := d.ConfigTopic(e.component, n.ID, e.property)
		d.topics.Register(n.DeviceID, topic)
		if err := d.queue.Add(topic, payload, d.qos, true); err != nil && !errors.Is(err, publish.ErrQueueClosed) {
			d.log().Warn("queueing discovery document", "topic", topic, "error", err)
		}
	}
}
