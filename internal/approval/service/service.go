// Package service routes scored proposals into approval items and records
// human decisions on them. Every state change is written together with its
// outbox entry in one transaction.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"

	"gatekeeper/internal/approval/metrics"
	"gatekeeper/internal/approval/models"
	"gatekeeper/internal/directory"
	"gatekeeper/internal/events"
	outboxmodels "gatekeeper/internal/outbox/models"
	tenantmodels "gatekeeper/internal/tenant/models"
	id "gatekeeper/pkg/domain"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/platform/sentinel"
	txcontext "gatekeeper/pkg/platform/tx"
)

var tracer = otel.Tracer("gatekeeper/approval")

// Store persists approval items.
type Store interface {
	Create(ctx context.Context, item *models.Item) error
	Get(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID) (*models.Item, error)
	GetByIdempotencyKey(ctx context.Context, tenantID id.TenantID, key string) (*models.Item, error)
	Update(ctx context.Context, item *models.Item, expectedVersion int64) error
	List(ctx context.Context, tenantID id.TenantID, filter models.ListFilter) ([]*models.Item, error)
}

// Outbox accepts events inside the caller's transaction.
type Outbox interface {
	Append(ctx context.Context, entries ...*outboxmodels.Entry) error
}

// SettingsProvider resolves per-tenant thresholds and SLAs.
type SettingsProvider interface {
	Settings(ctx context.Context, tenantID id.TenantID) (*tenantmodels.Settings, error)
}

const (
	defaultMaxBulk         = 500
	defaultBulkConcurrency = 8
	storeAttempts          = 3
)

type Service struct {
	store     Store
	outbox    Outbox
	tx        txcontext.Runner
	directory directory.Directory
	settings  SettingsProvider
	logger    *slog.Logger
	metrics   *metrics.Metrics

	maxBulk         int
	bulkConcurrency int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithMaxBulk caps the ids accepted by DecideBulk.
func WithMaxBulk(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBulk = n
		}
	}
}

// WithBulkConcurrency bounds parallel decisions inside one bulk call.
func WithBulkConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.bulkConcurrency = n
		}
	}
}

func New(store Store, outbox Outbox, tx txcontext.Runner, dir directory.Directory, settings SettingsProvider, opts ...Option) *Service {
	s := &Service{
		store:           store,
		outbox:          outbox,
		tx:              tx,
		directory:       dir,
		settings:        settings,
		logger:          slog.Default(),
		maxBulk:         defaultMaxBulk,
		bulkConcurrency: defaultBulkConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns one item of the tenant.
func (s *Service) Get(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID) (*models.Item, error) {
	item, err := s.store.Get(ctx, tenantID, approvalID)
	if err != nil {
		return nil, translate(err, "failed to load approval")
	}
	return item, nil
}

// List returns the tenant's items, newest first.
func (s *Service) List(ctx context.Context, tenantID id.TenantID, filter models.ListFilter) ([]*models.Item, error) {
	items, err := s.store.List(ctx, tenantID, filter)
	if err != nil {
		return nil, translate(err, "failed to list approvals")
	}
	return items, nil
}

// persist runs write and appends evs to the outbox in one transaction.
func (s *Service) persist(ctx context.Context, write func(txCtx context.Context) error, evs ...events.Event) error {
	entries := make([]*outboxmodels.Entry, 0, len(evs))
	for _, e := range evs {
		entry, err := outboxmodels.NewEntry(e)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}
	return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := write(txCtx); err != nil {
			return err
		}
		return s.outbox.Append(txCtx, entries...)
	})
}

// withRetry retries op immediately on transient store failures.
func (s *Service) withRetry(ctx context.Context, op func() error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, sentinel.ErrUnavailable) {
			if attempt < storeAttempts {
				s.metrics.IncrementStoreRetry()
				s.logger.WarnContext(ctx, "transient store failure, retrying", "attempt", attempt, "error", err)
			}
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, storeAttempts-1), ctx))
}

// translate maps store sentinels to coded errors. Coded errors pass through.
func translate(err error, msg string) error {
	if _, ok := dErrors.Is(err); ok {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "approval not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, models.ReasonConflict)
	case errors.Is(err, sentinel.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
