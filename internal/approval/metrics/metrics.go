package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers routing and decisions.
type Metrics struct {
	Routed           *prometheus.CounterVec
	RouteDuplicates  prometheus.Counter
	ConfidenceScores prometheus.Histogram
	Decisions        *prometheus.CounterVec
	DecisionFailures *prometheus.CounterVec
	BulkSize         prometheus.Histogram
	StoreRetries     prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Routed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_approvals_routed_total",
			Help: "Proposals routed, by recommendation",
		}, []string{"recommendation"}),
		RouteDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_approvals_route_duplicates_total",
			Help: "Route calls answered with an existing item for the same proposal",
		}),
		ConfidenceScores: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatekeeper_approvals_confidence_score",
			Help:    "Distribution of routed confidence scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_approvals_decisions_total",
			Help: "Human decisions recorded, by outcome and channel",
		}, []string{"outcome", "channel"}),
		DecisionFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_approvals_decision_failures_total",
			Help: "Decisions refused, by reason",
		}, []string{"reason"}),
		BulkSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatekeeper_approvals_bulk_size",
			Help:    "Ids per bulk decision call",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		StoreRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_approvals_store_retries_total",
			Help: "Transient store failures retried by the router",
		}),
	}
}

func (m *Metrics) IncrementRouted(recommendation string, score int) {
	if m == nil {
		return
	}
	m.Routed.WithLabelValues(recommendation).Inc()
	m.ConfidenceScores.Observe(float64(score))
}

func (m *Metrics) IncrementRouteDuplicate() {
	if m == nil {
		return
	}
	m.RouteDuplicates.Inc()
}

func (m *Metrics) IncrementDecision(outcome, channel string) {
	if m == nil {
		return
	}
	if channel == "" {
		channel = "unknown"
	}
	m.Decisions.WithLabelValues(outcome, channel).Inc()
}

func (m *Metrics) IncrementDecisionFailure(reason string) {
	if m == nil {
		return
	}
	m.DecisionFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveBulkSize(n int) {
	if m == nil {
		return
	}
	m.BulkSize.Observe(float64(n))
}

func (m *Metrics) IncrementStoreRetry() {
	if m == nil {
		return
	}
	m.StoreRetries.Inc()
}
