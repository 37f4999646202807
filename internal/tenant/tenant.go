package tenant

import (
	"log/slog"

	"gatekeeper/internal/tenant/metrics"
	"gatekeeper/internal/tenant/service"
)

// Service resolves per-tenant routing settings.
type Service = service.Service

// NewService constructs the settings service with required dependencies.
func NewService(store service.Store, logger *slog.Logger, m *metrics.Metrics) *Service {
	return service.New(store, service.WithLogger(logger), service.WithMetrics(m))
}
