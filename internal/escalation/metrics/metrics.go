package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers escalation sweeps and archival.
type Metrics struct {
	Transitions   *prometheus.CounterVec
	SweepErrors   prometheus.Counter
	SweepDuration prometheus.Histogram
	Archived      prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_escalation_transitions_total",
			Help: "Items changed by the sweep, by outcome (escalated, expired, reminded, skipped)",
		}, []string{"outcome"}),
		SweepErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_escalation_sweep_errors_total",
			Help: "Tenant sweeps that ended in an error",
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatekeeper_escalation_sweep_duration_seconds",
			Help:    "Duration of one tenant sweep",
			Buckets: prometheus.DefBuckets,
		}),
		Archived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_escalation_archived_total",
			Help: "Decided items archived after the retention window",
		}),
	}
}

func (m *Metrics) AddTransitions(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Transitions.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) IncrementSweepError() {
	if m == nil {
		return
	}
	m.SweepErrors.Inc()
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
}

func (m *Metrics) AddArchived(n int) {
	if m == nil || n == 0 {
		return
	}
	m.Archived.Add(float64(n))
}
