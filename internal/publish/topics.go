package publish

import (
	"errors"
	"maps"
	"slices"
	"sync"
)

// Enqueuer is the part of Queue a TopicRegistry needs.
type Enqueuer interface {
	Add(topic string, payload []byte, qos byte, retain bool) error
	Remove(topic string) bool
}

// TopicRegistry records the topics published for each device so they can
// be retracted when the device is removed or disabled.
//
// All public methods are thread-safe.
type TopicRegistry struct {
	queue Enqueuer
	qos   byte

	loggerMu sync.RWMutex
	logger   Logger

	mu     sync.Mutex
	topics map[string]map[string]struct{}
}

// NewTopicRegistry creates a registry that retracts topics through queue
// at the given QoS.
func NewTopicRegistry(queue Enqueuer, qos byte) *TopicRegistry {
	return &TopicRegistry{
		queue:  queue,
		qos:    qos,
		logger: noopLogger{},
		topics: make(map[string]map[string]struct{}),
	}
}

// SetLogger sets the logger for the registry.
func (r *TopicRegistry) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *TopicRegistry) log() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

// Register records topic for deviceID. Registering twice is a no-op.
func (r *TopicRegistry) Register(deviceID string, topics ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.topics[deviceID]
	if !ok {
		set = make(map[string]struct{}, len(topics))
		r.topics[deviceID] = set
	}
	for _, t := range topics {
		set[t] = struct{}{}
	}
}

// Topics returns the device's topics, sorted.
func (r *TopicRegistry) Topics(deviceID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.topics[deviceID]))
}

// Devices returns the ids with recorded topics, sorted.
func (r *TopicRegistry) Devices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.topics))
}

// Remove forgets the device's topics and cancels their pending messages.
// With clearRetained an empty retained message is queued for each topic
// so the broker drops its copy. It returns the retracted topics.
func (r *TopicRegistry) Remove(deviceID string, clearRetained bool) []string {
	r.mu.Lock()
	topics := slices.Sorted(maps.Keys(r.topics[deviceID]))
	delete(r.topics, deviceID)
	r.mu.Unlock()

	for _, t := range topics {
		r.queue.Remove(t)
		if clearRetained {
			if err := r.queue.Add(t, nil, r.qos, true); err != nil && !errors.Is(err, ErrQueueClosed) {
				r.log().Debug("clearing retained topic", "device_id", deviceID, "topic", t, "error", err)
			}
		}
	}
	return topics
}

// RemoveAll retracts every device.
func (r *TopicRegistry) RemoveAll(clearRetained bool) {
	for _, id := range r.Devices() {
		r.Remove(id, clearRetained)
	}
}
