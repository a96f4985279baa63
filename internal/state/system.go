package state

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/homie-hub/internal/infrastructure/mqtt"
)

// DefaultSystemInterval is how often system state is published.
const DefaultSystemInterval = 60 * time.Second

// Status values reported in SystemState.
const (
	StatusOnline   = "online"
	StatusDegraded = "degraded"
	StatusStopping = "stopping"
)

// SystemState is the JSON document published on {root}/system/state.
type SystemState struct {
	HubID          string    `json:"hub_id"`
	Version        string    `json:"version"`
	Status         string    `json:"status"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
	Devices        int       `json:"devices"`
	EnabledDevices int       `json:"enabled_devices"`
	QueueDepth     int       `json:"queue_depth"`
	MQTTConnected  bool      `json:"mqtt_connected"`
	Timestamp      time.Time `json:"timestamp"`
}

// Publisher sends system state directly, bypassing the queue.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Counter reports a size. *publish.Queue satisfies it.
type Counter interface {
	Len() int
}

// DeviceCounter reports registered and enabled devices.
// *device.Registry satisfies it.
type DeviceCounter interface {
	Len() int
	EnabledCount() int
}

// HubRecorder stores hub snapshots. *influxdb.Client satisfies it.
type HubRecorder interface {
	WriteHubState(hubID string, fields map[string]any)
}

// SystemConfig holds configuration for the system reporter.
type SystemConfig struct {
	HubID   string
	Version string

	// Root prefixes the topic. Empty means "system/state".
	Root string

	// Interval defaults to DefaultSystemInterval.
	Interval time.Duration

	Publisher Publisher
	Devices   DeviceCounter
	Queue     Counter
	Recorder  HubRecorder
}

// SystemReporter periodically publishes hub state.
type SystemReporter struct {
	hubID     string
	version   string
	topic     string
	startTime time.Time
	interval  time.Duration
	publisher Publisher
	devices   DeviceCounter
	queue     Counter
	recorder  HubRecorder

	// stopOnce prevents double-close panics.
	done     chan struct{}
	wg       sync.WaitGroup
	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewSystemReporter creates a reporter. Call Start to begin.
func NewSystemReporter(cfg SystemConfig) *SystemReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSystemInterval
	}

	return &SystemReporter{
		hubID:     cfg.HubID,
		version:   cfg.Version,
		topic:     mqtt.JoinTopic(cfg.Root, "system", commandState),
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		devices:   cfg.Devices,
		queue:     cfg.Queue,
		recorder:  cfg.Recorder,
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for this reporter.
func (r *SystemReporter) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *SystemReporter) log() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

// Topic returns the state topic.
func (r *SystemReporter) Topic() string {
	return r.topic
}

// Start publishes immediately and then on every interval until ctx is
// cancelled or Stop is called. Later calls are no-ops.
func (r *SystemReporter) Start(ctx context.Context) {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if r.started {
		return
	}
	r.started = true

	r.wg.Add(1)
	go r.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" state. Safe to
// call multiple times.
func (r *SystemReporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()

		if err := r.publish(StatusStopping); err != nil {
			r.log().Debug("publishing final system state", "error", err)
		}
	})
}

// PublishNow publishes the current state immediately.
func (r *SystemReporter) PublishNow() error {
	return r.publish(r.status())
}

// Snapshot returns the current state without publishing it.
func (r *SystemReporter) Snapshot() SystemState {
	return r.snapshot(r.status())
}

func (r *SystemReporter) reportLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if err := r.PublishNow(); err != nil {
		r.log().Warn("publishing system state", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			if err := r.PublishNow(); err != nil {
				r.log().Warn("publishing system state", "error", err)
			}
		}
	}
}

func (r *SystemReporter) status() string {
	if r.publisher == nil || !r.publisher.IsConnected() {
		return StatusDegraded
	}
	return StatusOnline
}

func (r *SystemReporter) snapshot(status string) SystemState {
	s := SystemState{
		HubID:         r.hubID,
		Version:       r.version,
		Status:        status,
		UptimeSeconds: int64(time.Since(r.startTime).Seconds()),
		MQTTConnected: r.publisher != nil && r.publisher.IsConnected(),
		Timestamp:     time.Now().UTC(),
	}
	if r.devices != nil {
		s.Devices = r.devices.Len()
		s.EnabledDevices = r.devices.EnabledCount()
	}
	if r.queue != nil {
		s.QueueDepth = r.queue.Len()
	}
	return s
}

func (r *SystemReporter) publish(status string) error {
	s := r.snapshot(status)

	if r.recorder != nil {
		r.recorder.WriteHubState(r.hubID, map[string]any{
			"uptime_seconds":  s.UptimeSeconds,
			"devices":         s.Devices,
			"enabled_devices": s.EnabledDevices,
			"queue_depth":     s.QueueDepth,
		})
	}

	if r.publisher == nil || !r.publisher.IsConnected() {
		return nil
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.publisher.Publish(r.topic, payload, 1, true)
}
