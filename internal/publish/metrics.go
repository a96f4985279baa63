package publish

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles publish queue metrics.
type Metrics struct {
	Enqueued  prometheus.Counter
	Coalesced prometheus.Counter
	Removed   prometheus.Counter
	Published *prometheus.CounterVec
	Depth     prometheus.Gauge
}

// NewMetrics constructs queue metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homiehub_publish_enqueued_total",
			Help: "Messages added to the publish queue",
		}),
		Coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homiehub_publish_coalesced_total",
			Help: "Messages that replaced a pending message for the same topic",
		}),
		Removed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homiehub_publish_removed_total",
			Help: "Pending messages cancelled before sending",
		}),
		Published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "homiehub_publish_sent_total",
				Help: "Messages handed to the MQTT client by result",
			},
			[]string{"result"},
		),
		Depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homiehub_publish_queue_depth",
			Help: "Messages waiting in the publish queue",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Enqueued, m.Coalesced, m.Removed, m.Published, m.Depth)
	}
	return m
}

func (m *Metrics) enqueued(depth int) {
	if m == nil {
		return
	}
	m.Enqueued.Inc()
	m.Depth.Set(float64(depth))
}

func (m *Metrics) coalesced() {
	if m == nil {
		return
	}
	m.Coalesced.Inc()
}

func (m *Metrics) removed(depth int) {
	if m == nil {
		return
	}
	m.Removed.Inc()
	m.Depth.Set(float64(depth))
}

func (m *Metrics) sent(err error, depth int) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Published.WithLabelValues(result).Inc()
	m.Depth.Set(float64(depth))
}
