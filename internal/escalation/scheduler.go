// Package escalation moves unanswered approval items along their escalation
// chain. A sweep is a function of the current time and the store contents:
// every change is claimed with the item's version, so any number of
// schedulers can sweep the same tenant.
package escalation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"gatekeeper/internal/approval/models"
	"gatekeeper/internal/escalation/metrics"
	"gatekeeper/internal/events"
	outboxmodels "gatekeeper/internal/outbox/models"
	tenantmodels "gatekeeper/internal/tenant/models"
	id "gatekeeper/pkg/domain"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/platform/sentinel"
	txcontext "gatekeeper/pkg/platform/tx"
)

var tracer = otel.Tracer("gatekeeper/escalation")

const (
	defaultInterval  = 5 * time.Minute
	defaultBatchSize = 200
	defaultTimeout   = 30 * time.Second

	expiredReason = "no approver left to escalate to"
)

// Store is the slice of the approval store the scheduler needs.
type Store interface {
	ListDue(ctx context.Context, tenantID id.TenantID, now time.Time, limit int) ([]*models.Item, error)
	Update(ctx context.Context, item *models.Item, expectedVersion int64) error
	ArchiveDecided(ctx context.Context, tenantID id.TenantID, cutoff, now time.Time) (int, error)
	ActiveTenants(ctx context.Context) ([]id.TenantID, error)
}

// Outbox accepts events inside the caller's transaction.
type Outbox interface {
	Append(ctx context.Context, entries ...*outboxmodels.Entry) error
}

// SettingsProvider resolves per-tenant SLAs and fallback approvers.
type SettingsProvider interface {
	Settings(ctx context.Context, tenantID id.TenantID) (*tenantmodels.Settings, error)
	Tenants(ctx context.Context) ([]id.TenantID, error)
}

// SweepResult counts what one sweep did. Skipped items were changed by
// someone else between listing and claiming them.
type SweepResult struct {
	Escalated int `json:"escalated"`
	Expired   int `json:"expired"`
	Reminded  int `json:"reminded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (r *SweepResult) add(o SweepResult) {
	r.Escalated += o.Escalated
	r.Expired += o.Expired
	r.Reminded += o.Reminded
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

// Changed is the number of items the sweep moved.
func (r SweepResult) Changed() int {
	return r.Escalated + r.Expired + r.Reminded
}

type Scheduler struct {
	store    Store
	outbox   Outbox
	tx       txcontext.Runner
	settings SettingsProvider
	logger   *slog.Logger
	metrics  *metrics.Metrics
	clock    func() time.Time

	interval     time.Duration
	batchSize    int
	timeout      time.Duration
	archiveAfter time.Duration
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// WithInterval sets the pause between sweeps in Run.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithBatchSize caps the items claimed per query.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithQueryTimeout bounds every due-items query.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithArchiveAfter enables archival of items decided longer ago than d.
func WithArchiveAfter(d time.Duration) Option {
	return func(s *Scheduler) { s.archiveAfter = d }
}

func New(store Store, outbox Outbox, tx txcontext.Runner, settings SettingsProvider, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:     store,
		outbox:    outbox,
		tx:        tx,
		settings:  settings,
		logger:    slog.Default(),
		clock:     time.Now,
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
		timeout:   defaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps every tenant immediately and then once per interval until ctx
// is cancelled. A failed pass is logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.SweepAll(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "escalation pass failed", "error", err)
		}
		if s.archiveAfter > 0 {
			if _, err := s.Archive(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "archive pass failed", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SweepAll sweeps every tenant that has open items or stored settings. A
// tenant whose sweep fails does not stop the others.
func (s *Scheduler) SweepAll(ctx context.Context) (SweepResult, error) {
	var total SweepResult
	tenants, err := s.tenants(ctx)
	if err != nil {
		return total, err
	}
	var errs []error
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		res, err := s.Sweep(ctx, tenantID, s.clock())
		total.add(res)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// Sweep escalates, expires or reminds every item of the tenant that is due
// at now.
func (s *Scheduler) Sweep(ctx context.Context, tenantID id.TenantID, now time.Time) (SweepResult, error) {
	ctx, span := tracer.Start(ctx, "escalation.sweep")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", tenantID.String()))
	start := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(start)) }()

	var result SweepResult
	if tenantID.IsNil() {
		return result, dErrors.New(dErrors.CodeValidation, "tenant_id is required")
	}
	settings, err := s.settings.Settings(ctx, tenantID)
	if err != nil {
		s.metrics.IncrementSweepError()
		span.RecordError(err)
		span.SetStatus(codes.Error, "settings")
		return result, err
	}

	// Items already visited in this sweep are not retried, so an item that
	// keeps losing its claim cannot pin the loop.
	visited := make(map[id.ApprovalID]struct{})
	for {
		due, err := s.listDue(ctx, tenantID, now)
		if err != nil {
			s.metrics.IncrementSweepError()
			span.RecordError(err)
			span.SetStatus(codes.Error, "list due")
			s.record(result)
			return result, err
		}
		fresh := 0
		for _, item := range due {
			if _, ok := visited[item.ID]; ok {
				continue
			}
			visited[item.ID] = struct{}{}
			fresh++
			result.add(s.advance(ctx, item, settings, now))
		}
		if fresh == 0 || len(due) < s.batchSize {
			break
		}
	}

	s.record(result)
	span.SetAttributes(
		attribute.Int("escalated", result.Escalated),
		attribute.Int("expired", result.Expired),
		attribute.Int("reminded", result.Reminded),
		attribute.Int("skipped", result.Skipped),
	)
	if result.Changed() > 0 || result.Failed > 0 {
		s.logger.InfoContext(ctx, "escalation sweep finished",
			"tenant_id", tenantID,
			"escalated", result.Escalated,
			"expired", result.Expired,
			"reminded", result.Reminded,
			"skipped", result.Skipped,
			"failed", result.Failed,
		)
	}
	return result, nil
}

func (s *Scheduler) listDue(ctx context.Context, tenantID id.TenantID, now time.Time) ([]*models.Item, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	due, err := s.store.ListDue(queryCtx, tenantID, now, s.batchSize)
	if err != nil {
		return nil, translate(err, "failed to list due approvals")
	}
	return due, nil
}

// advance applies the next move to one due item and claims it with the
// version it was read at.
func (s *Scheduler) advance(ctx context.Context, item *models.Item, settings *tenantmodels.Settings, now time.Time) SweepResult {
	expected := item.Version
	from := item.Status
	previousAssignee := item.AssignedTo
	previousDue := item.DueAt
	sla := settings.SLA(item.Priority.IsUrgent())

	var (
		evt     events.Event
		outcome SweepResult
		err     error
	)
	switch target := item.NextEscalation(settings.FallbackApprover); {
	case settings.RenotifyBeforeEscalating && !item.Reminded:
		if err = item.Remind(now, sla); err == nil {
			evt, err = events.New(events.TypeReminded, item.TenantID, item.ID, id.SystemActor, now, events.Reminded{
				Title:           item.Title,
				Status:          item.Status.String(),
				AssignedTo:      item.AssignedTo.String(),
				EscalationCount: item.EscalationLevel,
				DueAt:           item.DueAt,
				PreviousDueAt:   previousDue,
			})
		}
		outcome.Reminded = 1
	case target.Expire:
		if err = item.Expire(now); err == nil {
			evt, err = events.New(events.TypeExpired, item.TenantID, item.ID, id.SystemActor, now, events.Expired{
				Title:           item.Title,
				FromStatus:      from.String(),
				AssignedTo:      item.AssignedTo.String(),
				EscalationCount: item.EscalationLevel,
				Reason:          expiredReason,
			})
		}
		outcome.Expired = 1
	default:
		if err = item.Escalate(target, now, sla); err == nil {
			evt, err = events.New(events.TypeEscalated, item.TenantID, item.ID, id.SystemActor, now, events.Escalated{
				Title:            item.Title,
				FromStatus:       from.String(),
				AssignedTo:       item.AssignedTo.String(),
				PreviousAssignee: previousAssignee.String(),
				EscalationCount:  item.EscalationLevel,
				DueAt:            item.DueAt,
				PreviousDueAt:    previousDue,
				Fallback:         target.Fallback,
			})
		}
		outcome.Escalated = 1
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to apply escalation",
			"tenant_id", item.TenantID, "approval_id", item.ID, "error", err)
		return SweepResult{Failed: 1}
	}

	err = s.persist(ctx, item, expected, evt)
	switch {
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrNotFound):
		s.logger.DebugContext(ctx, "approval changed during sweep, skipping",
			"tenant_id", item.TenantID, "approval_id", item.ID)
		return SweepResult{Skipped: 1}
	case err != nil:
		s.logger.WarnContext(ctx, "failed to persist escalation",
			"tenant_id", item.TenantID, "approval_id", item.ID, "error", err)
		return SweepResult{Failed: 1}
	}

	s.logger.InfoContext(ctx, "approval advanced by scheduler",
		"tenant_id", item.TenantID,
		"approval_id", item.ID,
		"event_type", evt.Type,
		"assigned_to", item.AssignedTo,
		"escalation_level", item.EscalationLevel,
	)
	return outcome
}

// persist writes the item and its event in one transaction.
func (s *Scheduler) persist(ctx context.Context, item *models.Item, expected int64, evt events.Event) error {
	entry, err := outboxmodels.NewEntry(evt)
	if err != nil {
		return err
	}
	return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.store.Update(txCtx, item, expected); err != nil {
			return err
		}
		return s.outbox.Append(txCtx, entry)
	})
}

// Archive hides items decided before the retention window from listings.
func (s *Scheduler) Archive(ctx context.Context) (int, error) {
	if s.archiveAfter <= 0 {
		return 0, nil
	}
	tenants, err := s.tenants(ctx)
	if err != nil {
		return 0, err
	}
	now := s.clock()
	cutoff := now.Add(-s.archiveAfter)
	total := 0
	for _, tenantID := range tenants {
		n, err := s.store.ArchiveDecided(ctx, tenantID, cutoff, now)
		if err != nil {
			return total, translate(err, "failed to archive approvals")
		}
		if n > 0 {
			s.logger.InfoContext(ctx, "archived decided approvals", "tenant_id", tenantID, "count", n)
		}
		total += n
	}
	s.metrics.AddArchived(total)
	return total, nil
}

// tenants merges tenants with open items and tenants with stored settings.
func (s *Scheduler) tenants(ctx context.Context) ([]id.TenantID, error) {
	active, err := s.store.ActiveTenants(ctx)
	if err != nil {
		return nil, translate(err, "failed to list tenants")
	}
	configured, err := s.settings.Tenants(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[id.TenantID]struct{}, len(active)+len(configured))
	out := make([]id.TenantID, 0, len(active)+len(configured))
	for _, t := range append(active, configured...) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

func (s *Scheduler) record(r SweepResult) {
	s.metrics.AddTransitions("escalated", r.Escalated)
	s.metrics.AddTransitions("expired", r.Expired)
	s.metrics.AddTransitions("reminded", r.Reminded)
	s.metrics.AddTransitions("skipped", r.Skipped)
	s.metrics.AddTransitions("failed", r.Failed)
}

func translate(err error, msg string) error {
	if _, ok := dErrors.Is(err); ok {
		return err
	}
	if errors.Is(err, sentinel.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
