package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the outbox relay.
type Metrics struct {
	Published      prometheus.Counter
	PublishErrors  prometheus.Counter
	Purged         prometheus.Counter
	BatchDuration  prometheus.Histogram
	BreakerOpen    prometheus.Gauge
	PendingEntries prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		Published: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_outbox_published_total",
			Help: "Outbox entries appended to the event log",
		}),
		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_outbox_publish_errors_total",
			Help: "Relay batches that failed to reach the event log",
		}),
		Purged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_outbox_purged_total",
			Help: "Published outbox entries removed after retention",
		}),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatekeeper_outbox_batch_duration_seconds",
			Help:    "Time to publish and mark one relay batch",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		BreakerOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gatekeeper_outbox_breaker_open",
			Help: "1 while the relay circuit breaker is open",
		}),
		PendingEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gatekeeper_outbox_last_batch_size",
			Help: "Entries fetched by the most recent relay batch",
		}),
	}
}

func (m *Metrics) AddPublished(n int) {
	if m == nil {
		return
	}
	m.Published.Add(float64(n))
}

func (m *Metrics) IncPublishErrors() {
	if m == nil {
		return
	}
	m.PublishErrors.Inc()
}

func (m *Metrics) AddPurged(n int) {
	if m == nil {
		return
	}
	m.Purged.Add(float64(n))
}

func (m *Metrics) ObserveBatch(seconds float64, size int) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(seconds)
	m.PendingEntries.Set(float64(size))
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}
