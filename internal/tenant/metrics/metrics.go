package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for tenant settings lookups.
type Metrics struct {
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	DefaultsServed prometheus.Counter
}

// New creates a new Metrics instance with all tenant module metrics registered.
func New() *Metrics {
	return &Metrics{
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_tenant_settings_cache_hits_total",
			Help: "Tenant settings served from the Redis cache",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_tenant_settings_cache_misses_total",
			Help: "Tenant settings lookups that fell through to the backing store",
		}),
		DefaultsServed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_tenant_settings_defaults_total",
			Help: "Lookups for tenants without stored settings that received defaults",
		}),
	}
}

func (m *Metrics) IncrementCacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

func (m *Metrics) IncrementCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMisses.Inc()
}

func (m *Metrics) IncrementDefaultsServed() {
	if m == nil {
		return
	}
	m.DefaultsServed.Inc()
}
