package publish

import (
	"sync"
	"time"
)

// DefaultDelay is the pause between two sends.
const DefaultDelay = 50 * time.Millisecond

// Logger defines the logging interface used by the package.
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

// Publisher sends one MQTT message. Satisfied by the MQTT client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Message is one pending publish.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool

	seq uint64
}

type entry struct {
	topic string
	seq   uint64
}

// QueueConfig holds configuration for a Queue.
type QueueConfig struct {
	// Publisher receives drained messages. Required.
	Publisher Publisher

	// Delay between sends. Default: DefaultDelay.
	Delay time.Duration

	// Metrics is optional.
	Metrics *Metrics
}

// Queue is a coalescing, ordered, paced publish queue.
//
// A queue starts stopped: messages accumulate until Start is called,
// typically from the MQTT on-connect callback.
//
// All public methods are thread-safe.
type Queue struct {
	publisher Publisher
	delay     time.Duration
	metrics   *Metrics

	mu         sync.Mutex
	pending    map[string]*Message
	order      []entry
	seq        uint64
	running    bool
	processing bool
	closed     bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex
}

// NewQueue creates a stopped queue.
func NewQueue(cfg QueueConfig) *Queue {
	delay := cfg.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Queue{
		publisher: cfg.Publisher,
		delay:     delay,
		metrics:   cfg.Metrics,
		pending:   make(map[string]*Message),
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the queue.
func (q *Queue) SetLogger(logger Logger) {
	q.loggerMu.Lock()
	q.logger = logger
	q.loggerMu.Unlock()
}

func (q *Queue) log() Logger {
	q.loggerMu.RLock()
	defer q.loggerMu.RUnlock()
	return q.logger
}

// Add queues a message. When topic is already pending its payload, QoS
// and retain flag are replaced and it keeps its place in line.
func (q *Queue) Add(topic string, payload []byte, qos byte, retain bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if msg, ok := q.pending[topic]; ok {
		msg.Payload = payload
		msg.QoS = qos
		msg.Retain = retain
		q.metrics.coalesced()
		return nil
	}

	q.seq++
	q.pending[topic] = &Message{Topic: topic, Payload: payload, QoS: qos, Retain: retain, seq: q.seq}
	q.order = append(q.order, entry{topic: topic, seq: q.seq})
	q.metrics.enqueued(len(q.pending))

	q.kickLocked()
	return nil
}

// Remove cancels the pending message for topic. A message already handed
// to the publisher is unaffected.
func (q *Queue) Remove(topic string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pending[topic]; !ok {
		return false
	}
	delete(q.pending, topic)
	q.metrics.removed(len(q.pending))
	return true
}

// Pending returns a copy of the pending message for topic.
func (q *Queue) Pending(topic string) (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.pending[topic]
	if !ok {
		return Message{}, false
	}
	return *msg, true
}

// Len returns the number of pending messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Start resumes draining.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.running {
		return
	}
	q.running = true
	q.kickLocked()
}

// Stop halts draining after the message in flight. Pending messages are
// kept.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.running = false
	q.mu.Unlock()
}

// Running reports whether the queue drains.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Close stops draining for good and waits for the drain loop to exit.
// Pending messages are dropped.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.running = false
		dropped := len(q.pending)
		q.pending = make(map[string]*Message)
		q.order = nil
		q.mu.Unlock()

		close(q.done)
		q.wg.Wait()

		if dropped > 0 {
			q.log().Debug("publish queue closed with pending messages", "dropped", dropped)
		}
	})
}

// kickLocked starts the drain loop unless one is active. Caller holds q.mu.
func (q *Queue) kickLocked() {
	if !q.running || q.processing || len(q.pending) == 0 {
		return
	}
	q.processing = true
	q.wg.Add(1)
	go q.drain()
}

// popLocked returns the oldest pending message, discarding order entries
// whose message was removed or re-added since. Caller holds q.mu.
func (q *Queue) popLocked() *Message {
	for len(q.order) > 0 {
		e := q.order[0]
		q.order[0] = entry{}
		q.order = q.order[1:]

		msg, ok := q.pending[e.topic]
		if !ok || msg.seq != e.seq {
			continue
		}
		delete(q.pending, e.topic)
		return msg
	}
	return nil
}

func (q *Queue) drain() {
	defer q.wg.Done()

	timer := time.NewTimer(q.delay)
	timer.Stop()
	defer timer.Stop()

	for {
		q.mu.Lock()
		if !q.running {
			q.processing = false
			q.mu.Unlock()
			return
		}
		msg := q.popLocked()
		if msg == nil {
			q.processing = false
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		err := q.publisher.Publish(msg.Topic, msg.Payload, msg.QoS, msg.Retain)
		q.metrics.sent(err, q.Len())
		if err != nil {
			q.log().Warn("publish failed", "topic", msg.Topic, "error", err)
		}

		timer.Reset(q.delay)
		select {
		case <-timer.C:
		case <-q.done:
			q.mu.Lock()
			q.processing = false
			q.mu.Unlock()
			return
		}
	}
}
