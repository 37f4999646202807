package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"gatekeeper/internal/approval/models"
	"gatekeeper/internal/events"
	id "gatekeeper/pkg/domain"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/platform/sentinel"
	"gatekeeper/pkg/requestcontext"
)

// DecideRequest is one human decision.
type DecideRequest struct {
	TenantID        id.TenantID
	ApprovalID      id.ApprovalID
	ActorID         id.ActorID
	Outcome         string
	Notes           string
	RejectionReason string
}

// BulkDecideRequest applies the same decision to many items.
type BulkDecideRequest struct {
	TenantID        id.TenantID
	ApprovalIDs     []id.ApprovalID
	ActorID         id.ActorID
	Outcome         string
	Notes           string
	RejectionReason string
}

type BulkFailure struct {
	ID     id.ApprovalID `json:"id"`
	Reason string        `json:"reason"`
}

// BulkResult lists successes and failures, each in input order.
type BulkResult struct {
	Succeeded []id.ApprovalID `json:"succeeded"`
	Failed    []BulkFailure   `json:"failed"`
}

type decision struct {
	tenantID        id.TenantID
	actor           id.ActorID
	outcome         models.Outcome
	notes           string
	rejectionReason string
}

func (s *Service) prepare(tenantID id.TenantID, actor id.ActorID, outcome, rejectionReason, notes string) (decision, error) {
	if tenantID.IsNil() {
		return decision{}, dErrors.New(dErrors.CodeValidation, "tenant_id is required")
	}
	if actor.IsZero() {
		return decision{}, dErrors.New(dErrors.CodeForbidden, models.ReasonNotPermitted)
	}
	o, err := models.ParseOutcome(outcome)
	if err != nil {
		return decision{}, err
	}
	if o == models.OutcomeReject && strings.TrimSpace(rejectionReason) == "" {
		return decision{}, dErrors.New(dErrors.CodeValidation, "rejection_reason is required when rejecting")
	}
	return decision{tenantID: tenantID, actor: actor, outcome: o, notes: notes, rejectionReason: rejectionReason}, nil
}

// Decide records a human approve or reject on one item.
func (s *Service) Decide(ctx context.Context, req DecideRequest) (*models.Item, error) {
	ctx, span := tracer.Start(ctx, "approval.decide")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", req.TenantID.String()),
		attribute.String("approval_id", req.ApprovalID.String()),
		attribute.String("outcome", req.Outcome),
	)

	d, err := s.prepare(req.TenantID, req.ActorID, req.Outcome, req.RejectionReason, req.Notes)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	item, err := s.decideOne(ctx, d, req.ApprovalID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decide failed")
		return nil, err
	}
	return item, nil
}

// DecideBulk applies one decision to each id independently. A failure on one
// id never rolls back another.
func (s *Service) DecideBulk(ctx context.Context, req BulkDecideRequest) (*BulkResult, error) {
	ctx, span := tracer.Start(ctx, "approval.decide_bulk")
	defer span.End()
	span.SetAttributes(attribute.Int("bulk_size", len(req.ApprovalIDs)))

	if len(req.ApprovalIDs) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "approval_ids must not be empty")
	}
	if len(req.ApprovalIDs) > s.maxBulk {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("at most %d approval_ids per call", s.maxBulk))
	}
	d, err := s.prepare(req.TenantID, req.ActorID, req.Outcome, req.RejectionReason, req.Notes)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveBulkSize(len(req.ApprovalIDs))

	reasons := make([]string, len(req.ApprovalIDs))
	seen := make(map[id.ApprovalID]struct{}, len(req.ApprovalIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.bulkConcurrency)
	for i, approvalID := range req.ApprovalIDs {
		if _, dup := seen[approvalID]; dup {
			reasons[i] = models.ReasonDuplicate
			continue
		}
		seen[approvalID] = struct{}{}
		g.Go(func() error {
			if _, err := s.decideOne(gctx, d, approvalID); err != nil {
				reasons[i] = failureReason(err)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := &BulkResult{Succeeded: []id.ApprovalID{}, Failed: []BulkFailure{}}
	for i, approvalID := range req.ApprovalIDs {
		if reasons[i] == "" {
			result.Succeeded = append(result.Succeeded, approvalID)
			continue
		}
		result.Failed = append(result.Failed, BulkFailure{ID: approvalID, Reason: reasons[i]})
	}
	span.SetAttributes(
		attribute.Int("succeeded", len(result.Succeeded)),
		attribute.Int("failed", len(result.Failed)),
	)
	return result, nil
}

func (s *Service) decideOne(ctx context.Context, d decision, approvalID id.ApprovalID) (*models.Item, error) {
	allowed, err := s.directory.MayDecide(ctx, d.actor, d.tenantID, approvalID)
	if err != nil || !allowed {
		if err != nil {
			s.logger.WarnContext(ctx, "authorization check failed",
				"tenant_id", d.tenantID,
				"approval_id", approvalID,
				"actor_id", d.actor,
				"error", err,
			)
		}
		s.metrics.IncrementDecisionFailure(models.ReasonNotPermitted)
		return nil, dErrors.New(dErrors.CodeForbidden, models.ReasonNotPermitted)
	}

	var item *models.Item
	err = s.withRetry(ctx, func() error {
		loaded, err := s.store.Get(ctx, d.tenantID, approvalID)
		if err != nil {
			return err
		}
		from := loaded.Status
		expected := loaded.Version
		if err := loaded.Decide(d.outcome, d.actor, d.notes, d.rejectionReason, requestcontext.Now(ctx)); err != nil {
			return err
		}
		evt, err := decidedEvent(ctx, loaded, from)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to build event")
		}
		if err := s.persist(ctx, func(txCtx context.Context) error {
			return s.store.Update(txCtx, loaded, expected)
		}, evt); err != nil {
			return err
		}
		item = loaded
		return nil
	})
	if errors.Is(err, sentinel.ErrConflict) {
		return nil, s.failed(s.conflictReason(ctx, d.tenantID, approvalID))
	}
	if err != nil {
		return nil, s.failed(translate(err, "failed to record decision"))
	}

	s.metrics.IncrementDecision(string(d.outcome), string(requestcontext.CallerChannel(ctx)))
	s.logger.InfoContext(ctx, "approval decided",
		"tenant_id", item.TenantID,
		"approval_id", item.ID,
		"status", item.Status,
		"actor_id", d.actor,
	)
	return item, nil
}

// conflictReason explains a lost version race: a concurrent decision or
// expiry is reported as such, anything else as a plain conflict.
func (s *Service) conflictReason(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID) error {
	current, err := s.store.Get(ctx, tenantID, approvalID)
	if err == nil && current.Status.IsTerminal() {
		return current.CanDecide(models.OutcomeApprove, "")
	}
	return dErrors.New(dErrors.CodeConflict, models.ReasonConflict)
}

func (s *Service) failed(err error) error {
	s.metrics.IncrementDecisionFailure(metricReason(err))
	return err
}

func decidedEvent(ctx context.Context, item *models.Item, from models.Status) (events.Event, error) {
	t := events.TypeGranted
	if item.Status == models.StatusRejected {
		t = events.TypeRejected
	}
	return events.New(t, item.TenantID, item.ID, item.DecidedBy, *item.DecidedAt, events.Decided{
		Title:           item.Title,
		FromStatus:      from.String(),
		ToStatus:        item.Status.String(),
		AssignedTo:      item.AssignedTo.String(),
		DecidedBy:       item.DecidedBy.String(),
		DecidedAt:       *item.DecidedAt,
		Notes:           item.DecisionNotes,
		RejectionReason: item.RejectionReason,
		Channel:         string(requestcontext.CallerChannel(ctx)),
	})
}

// failureReason is the per-id reason reported by DecideBulk.
func failureReason(err error) string {
	de, ok := dErrors.Is(err)
	if !ok {
		return "internal error"
	}
	switch de.Code {
	case dErrors.CodeForbidden:
		return models.ReasonNotPermitted
	case dErrors.CodeNotFound:
		return models.ReasonNotFound
	case dErrors.CodeInternal:
		return "internal error"
	case dErrors.CodeUnavailable, dErrors.CodeTimeout:
		return "temporarily unavailable"
	}
	return de.Message
}

func metricReason(err error) string {
	switch reason := failureReason(err); reason {
	case models.ReasonAlreadyDecided, models.ReasonExpired, models.ReasonConflict,
		models.ReasonNotFound, models.ReasonNotPermitted:
		return reason
	}
	if dErrors.HasCode(err, dErrors.CodeValidation) {
		return "validation"
	}
	return "other"
}
