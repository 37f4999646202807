package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers event delivery per consumer group.
type Metrics struct {
	Delivered        *prometheus.CounterVec
	Duplicates       *prometheus.CounterVec
	Failures         *prometheus.CounterVec
	Parked           *prometheus.CounterVec
	DeadLettered     *prometheus.CounterVec
	Replayed         *prometheus.CounterVec
	Undecodable      *prometheus.CounterVec
	HandlerDuration  *prometheus.HistogramVec
	RetryQueueLength *prometheus.GaugeVec
}

func New() *Metrics {
	return &Metrics{
		Delivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_dispatch_delivered_total",
			Help: "Events handled successfully",
		}, []string{"group", "event_type"}),
		Duplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_dispatch_duplicates_total",
			Help: "Deliveries skipped because the ledger already had the event",
		}, []string{"group"}),
		Failures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_dispatch_handler_failures_total",
			Help: "Handler attempts that returned an error or timed out",
		}, []string{"group", "event_type"}),
		Parked: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_dispatch_parked_total",
			Help: "Events parked in the retry store",
		}, []string{"group", "reason"}),
		DeadLettered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_dispatch_dead_lettered_total",
			Help: "Events moved to the dead-letter channel",
		}, []string{"group"}),
		Replayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_dispatch_replayed_total",
			Help: "Events re-appended to the log by an operator",
		}, []string{"source"}),
		Undecodable: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_dispatch_undecodable_total",
			Help: "Log records that could not be decoded and were skipped",
		}, []string{"group"}),
		HandlerDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatekeeper_dispatch_handler_duration_seconds",
			Help:    "Handler execution time per delivery",
			Buckets: prometheus.DefBuckets,
		}, []string{"group"}),
		RetryQueueLength: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gatekeeper_dispatch_retry_queue_length",
			Help: "Events parked for retry per group",
		}, []string{"group"}),
	}
}

func (m *Metrics) IncrementDelivered(group, eventType string) {
	if m == nil {
		return
	}
	m.Delivered.WithLabelValues(group, eventType).Inc()
}

func (m *Metrics) IncrementDuplicate(group string) {
	if m == nil {
		return
	}
	m.Duplicates.WithLabelValues(group).Inc()
}

func (m *Metrics) IncrementFailure(group, eventType string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(group, eventType).Inc()
}

// IncrementParked counts parked events; reason is "failed" or "ordering".
func (m *Metrics) IncrementParked(group, reason string) {
	if m == nil {
		return
	}
	m.Parked.WithLabelValues(group, reason).Inc()
}

func (m *Metrics) IncrementDeadLettered(group string) {
	if m == nil {
		return
	}
	m.DeadLettered.WithLabelValues(group).Inc()
}

func (m *Metrics) AddReplayed(source string, n int) {
	if m == nil {
		return
	}
	m.Replayed.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) IncrementUndecodable(group string) {
	if m == nil {
		return
	}
	m.Undecodable.WithLabelValues(group).Inc()
}

func (m *Metrics) ObserveHandler(group string, seconds float64) {
	if m == nil {
		return
	}
	m.HandlerDuration.WithLabelValues(group).Observe(seconds)
}

func (m *Metrics) SetRetryQueueLength(group string, n int) {
	if m == nil {
		return
	}
	m.RetryQueueLength.WithLabelValues(group).Set(float64(n))
}
