package service

import (
	"context"
	"errors"
	"log/slog"

	"gatekeeper/internal/tenant/metrics"
	"gatekeeper/internal/tenant/models"
	id "gatekeeper/pkg/domain"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/platform/sentinel"
)

// Store persists tenant settings.
type Store interface {
	Get(ctx context.Context, tenantID id.TenantID) (*models.Settings, error)
	Put(ctx context.Context, settings *models.Settings) error
	ListTenants(ctx context.Context) ([]id.TenantID, error)
}

// Service resolves per-tenant settings for the router and the scheduler.
type Service struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settings returns the stored settings for a tenant, or the defaults when the
// tenant has none.
func (s *Service) Settings(ctx context.Context, tenantID id.TenantID) (*models.Settings, error) {
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "tenant_id is required")
	}
	settings, err := s.store.Get(ctx, tenantID)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.metrics.IncrementDefaultsServed()
		return models.Defaults(tenantID), nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load tenant settings")
	}
	return settings, nil
}

// Put validates and stores settings.
func (s *Service) Put(ctx context.Context, settings *models.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if err := s.store.Put(ctx, settings); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to store tenant settings")
	}
	s.logger.InfoContext(ctx, "tenant settings updated", "tenant_id", settings.TenantID.String())
	return nil
}

// Tenants lists tenants with stored settings; the scheduler sweeps these.
func (s *Service) Tenants(ctx context.Context) ([]id.TenantID, error) {
	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to list tenants")
	}
	return tenants, nil
}
