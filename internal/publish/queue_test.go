package publish

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	topic   string
	payload string
	retain  bool
}

type fakePublisher struct {
	mu       sync.Mutex
	msgs     []sent
	fail     map[string]bool
	inFlight atomic.Int32
	overlap  atomic.Bool
	onSend   func(topic string)
}

func (p *fakePublisher) Publish(topic string, payload []byte, _ byte, retained bool) error {
	if p.inFlight.Add(1) > 1 {
		p.overlap.Store(true)
	}
	defer p.inFlight.Add(-1)

	p.mu.Lock()
	p.msgs = append(p.msgs, sent{topic, string(payload), retained})
	fail := p.fail[topic]
	hook := p.onSend
	p.mu.Unlock()

	if hook != nil {
		hook(topic)
	}
	if fail {
		return errors.New("broker said no")
	}
	return nil
}

func (p *fakePublisher) published() []sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]sent, len(p.msgs))
	copy(out, p.msgs)
	return out
}

func (p *fakePublisher) topics() []string {
	var out []string
	for _, m := range p.published() {
		out = append(out, m.topic)
	}
	return out
}

func newTestQueue(t *testing.T, pub *fakePublisher) *Queue {
	t.Helper()
	q := NewQueue(QueueConfig{Publisher: pub, Delay: time.Millisecond})
	t.Cleanup(q.Close)
	return q
}

func waitDrained(t *testing.T, q *Queue, pub *fakePublisher, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return q.Len() == 0 && len(pub.published()) >= n
	}, 2*time.Second, 2*time.Millisecond)
}

func TestQueue_Coalesces(t *testing.T) {
	pub := &fakePublisher{}
	q := newTestQueue(t, pub)

	require.NoError(t, q.Add("a", []byte("v1"), 1, true))
	require.NoError(t, q.Add("a", []byte("v2"), 1, false))
	assert.Equal(t, 1, q.Len())

	q.Start()
	waitDrained(t, q, pub, 1)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, []sent{{"a", "v2", false}}, pub.published())
}

func TestQueue_OrderAndCoalescePosition(t *testing.T) {
	pub := &fakePublisher{}
	q := newTestQueue(t, pub)

	for _, topic := range []string{"a", "b", "c"} {
		require.NoError(t, q.Add(topic, []byte(topic), 0, false))
	}
	require.NoError(t, q.Add("a", []byte("a2"), 0, false))

	q.Start()
	waitDrained(t, q, pub, 3)

	assert.Equal(t, []sent{{"a", "a2", false}, {"b", "b", false}, {"c", "c", false}}, pub.published())
}

func TestQueue_Remove(t *testing.T) {
	pub := &fakePublisher{}
	q := newTestQueue(t, pub)

	_ = q.Add("a", []byte("1"), 0, false)
	_ = q.Add("b", []byte("1"), 0, false)
	_ = q.Add("c", []byte("1"), 0, false)

	assert.True(t, q.Remove("b"))
	assert.False(t, q.Remove("b"))

	// Re-adding a removed topic puts it at the back.
	assert.True(t, q.Remove("a"))
	_ = q.Add("a", []byte("2"), 0, false)

	q.Start()
	waitDrained(t, q, pub, 2)

	assert.Equal(t, []string{"c", "a"}, pub.topics())
}

func TestQueue_StopKeepsPending(t *testing.T) {
	pub := &fakePublisher{}
	q := newTestQueue(t, pub)

	q.Start()
	_ = q.Add("a", []byte("1"), 0, false)
	waitDrained(t, q, pub, 1)

	q.Stop()
	assert.False(t, q.Running())
	_ = q.Add("b", []byte("1"), 0, false)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, q.Len(), "stopped queue keeps messages")
	assert.Len(t, pub.published(), 1)

	msg, ok := q.Pending("b")
	require.True(t, ok)
	assert.Equal(t, "1", string(msg.Payload))

	q.Start()
	waitDrained(t, q, pub, 2)
	assert.Equal(t, []string{"a", "b"}, pub.topics())
}

func TestQueue_FailureDoesNotStopDrain(t *testing.T) {
	pub := &fakePublisher{fail: map[string]bool{"bad": true}}
	q := newTestQueue(t, pub)

	_ = q.Add("bad", []byte("x"), 0, false)
	_ = q.Add("good", []byte("y"), 0, false)
	q.Start()
	waitDrained(t, q, pub, 2)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, []string{"bad", "good"}, pub.topics(), "failed send is not retried")
}

func TestQueue_AddFromPublishCallback(t *testing.T) {
	pub := &fakePublisher{}
	q := newTestQueue(t, pub)

	var once sync.Once
	pub.onSend = func(string) {
		once.Do(func() { _ = q.Add("followup", []byte("f"), 0, false) })
	}

	_ = q.Add("first", []byte("x"), 0, false)
	q.Start()
	waitDrained(t, q, pub, 2)

	assert.Equal(t, []string{"first", "followup"}, pub.topics())
	assert.False(t, pub.overlap.Load(), "only one drain loop publishes at a time")
}

func TestQueue_NilPayloadClearsRetained(t *testing.T) {
	pub := &fakePublisher{}
	q := newTestQueue(t, pub)

	_ = q.Add("a", nil, 1, true)
	q.Start()
	waitDrained(t, q, pub, 1)

	assert.Equal(t, []sent{{"a", "", true}}, pub.published())
}

func TestQueue_Close(t *testing.T) {
	pub := &fakePublisher{}
	q := NewQueue(QueueConfig{Publisher: pub, Delay: time.Hour})

	_ = q.Add("a", []byte("1"), 0, false)
	_ = q.Add("b", []byte("1"), 0, false)
	q.Start()

	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		q.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close() did not interrupt the pacing delay")
	}

	assert.ErrorIs(t, q.Add("c", nil, 0, false), ErrQueueClosed)
	assert.Equal(t, 0, q.Len())
	q.Close()
}

func TestQueue_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	pub := &fakePublisher{fail: map[string]bool{"bad": true}}
	q := NewQueue(QueueConfig{Publisher: pub, Delay: time.Millisecond, Metrics: NewMetrics(reg)})
	t.Cleanup(q.Close)

	_ = q.Add("a", []byte("1"), 0, false)
	_ = q.Add("a", []byte("2"), 0, false)
	_ = q.Add("bad", []byte("1"), 0, false)
	_ = q.Add("gone", []byte("1"), 0, false)
	q.Remove("gone")
	q.Start()
	waitDrained(t, q, pub, 2)

	require.Eventually(t, func() bool {
		return counterValue(t, reg, "homiehub_publish_sent_total", "error") == 1
	}, time.Second, time.Millisecond)

	assert.Equal(t, 3.0, counterValue(t, reg, "homiehub_publish_enqueued_total", ""))
	assert.Equal(t, 1.0, counterValue(t, reg, "homiehub_publish_coalesced_total", ""))
	assert.Equal(t, 1.0, counterValue(t, reg, "homiehub_publish_removed_total", ""))
	assert.Equal(t, 1.0, counterValue(t, reg, "homiehub_publish_sent_total", "ok"))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if result != "" {
				match := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == "result" && lp.GetValue() == result {
						match = true
					}
				}
				if !match {
					continue
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}
