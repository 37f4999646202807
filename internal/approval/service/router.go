package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"gatekeeper/internal/approval/models"
	"gatekeeper/internal/confidence"
	"gatekeeper/internal/events"
	id "gatekeeper/pkg/domain"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/platform/sentinel"
	"gatekeeper/pkg/requestcontext"
)

// RouteRequest is a scored proposal from an upstream agent.
type RouteRequest struct {
	TenantID    id.TenantID
	ProposalID  string
	Kind        string
	Title       string
	Payload     json.RawMessage
	Factors     []confidence.Factor
	Priority    string
	AIReasoning string
	// EscalationChain overrides the directory's chain when set.
	EscalationChain []id.ActorID
}

// Route scores a proposal and creates its approval item, or returns the item
// already created for the same proposal.
func (s *Service) Route(ctx context.Context, req RouteRequest) (*models.Item, error) {
	ctx, span := tracer.Start(ctx, "approval.route")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", req.TenantID.String()),
		attribute.String("kind", req.Kind),
	)

	item, err := s.route(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "route failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("approval_id", item.ID.String()),
		attribute.Int("confidence_score", item.ConfidenceScore),
	)
	return item, nil
}

func (s *Service) route(ctx context.Context, req RouteRequest) (*models.Item, error) {
	if req.TenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "tenant_id is required")
	}
	kind, err := models.ParseKind(req.Kind)
	if err != nil {
		return nil, err
	}
	priority, err := models.ParsePriority(req.Priority)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ProposalID) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "proposal_id is required")
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "title is required")
	}

	key := models.IdempotencyKey(req.ProposalID)
	if existing, err := s.existing(ctx, req.TenantID, key); err != nil || existing != nil {
		return existing, err
	}

	settings, err := s.settings.Settings(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	result, err := confidence.Score(req.Factors, settings.Thresholds())
	if err != nil {
		return nil, err
	}
	if result.Score < settings.QuickReviewThreshold && strings.TrimSpace(req.AIReasoning) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "ai_reasoning is required when confidence is below the quick review threshold")
	}

	params := models.NewItemParams{
		TenantID:    req.TenantID,
		ProposalID:  req.ProposalID,
		Kind:        kind,
		Title:       req.Title,
		Payload:     req.Payload,
		Priority:    priority,
		Score:       result,
		AIReasoning: req.AIReasoning,
		Now:         requestcontext.Now(ctx),
		SLA:         settings.SLA(priority.IsUrgent()),
	}
	if result.Recommendation != confidence.RecommendAuto {
		if err := s.resolveApprovers(ctx, &params, req.EscalationChain); err != nil {
			return nil, err
		}
	}

	item, err := models.NewItem(params)
	if err != nil {
		return nil, err
	}
	evt, err := routedEvent(item)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build event")
	}

	err = s.withRetry(ctx, func() error {
		return s.persist(ctx, func(txCtx context.Context) error {
			return s.store.Create(txCtx, item)
		}, evt)
	})
	if errors.Is(err, sentinel.ErrAlreadyUsed) {
		// Lost the insert race to a concurrent call for the same proposal.
		winner, getErr := s.store.GetByIdempotencyKey(ctx, req.TenantID, key)
		if getErr != nil {
			return nil, translate(getErr, "failed to load routed approval")
		}
		s.metrics.IncrementRouteDuplicate()
		return winner, nil
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to persist routed approval",
			"tenant_id", req.TenantID,
			"idempotency_key", key,
			"error", err,
		)
		return nil, translate(err, "failed to persist approval")
	}

	s.metrics.IncrementRouted(item.Recommendation.String(), item.ConfidenceScore)
	s.logger.InfoContext(ctx, "approval routed",
		"tenant_id", item.TenantID,
		"approval_id", item.ID,
		"score", item.ConfidenceScore,
		"recommendation", item.Recommendation,
		"assigned_to", item.AssignedTo,
	)
	return item, nil
}

func (s *Service) existing(ctx context.Context, tenantID id.TenantID, key string) (*models.Item, error) {
	var found *models.Item
	err := s.withRetry(ctx, func() error {
		item, err := s.store.GetByIdempotencyKey(ctx, tenantID, key)
		if err != nil {
			return err
		}
		found = item
		return nil
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err, "failed to check for an existing approval")
	}
	s.metrics.IncrementRouteDuplicate()
	return found, nil
}

func (s *Service) resolveApprovers(ctx context.Context, params *models.NewItemParams, override []id.ActorID) error {
	kind := params.Kind.String()
	assignee, err := s.directory.ResolveDefaultApprover(ctx, params.TenantID, kind)
	if err != nil {
		return directoryError(err)
	}
	params.AssignedTo = assignee

	if len(override) > 0 {
		params.EscalationChain = override
		return nil
	}
	chain, err := s.directory.EscalationChain(ctx, params.TenantID, kind)
	if err != nil {
		return directoryError(err)
	}
	params.EscalationChain = chain
	return nil
}

func directoryError(err error) error {
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return dErrors.Wrap(err, dErrors.CodeValidation, "no approver configured for this tenant")
	}
	if _, ok := dErrors.Is(err); ok {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "approver directory unavailable")
}

func routedEvent(item *models.Item) (events.Event, error) {
	if item.Status == models.StatusAutoApproved {
		return events.New(events.TypeAutoApproved, item.TenantID, item.ID, id.SystemActor, item.CreatedAt, events.AutoApproved{
			Kind:            item.Kind.String(),
			Title:           item.Title,
			ConfidenceScore: item.ConfidenceScore,
			Recommendation:  item.Recommendation.String(),
			DecidedAt:       *item.DecidedAt,
			DecidedBy:       item.DecidedBy.String(),
		})
	}
	return events.New(events.TypeRequested, item.TenantID, item.ID, "", item.CreatedAt, events.Requested{
		Kind:            item.Kind.String(),
		Title:           item.Title,
		Priority:        item.Priority.String(),
		ConfidenceScore: item.ConfidenceScore,
		Recommendation:  item.Recommendation.String(),
		AssignedTo:      item.AssignedTo.String(),
		DueAt:           item.DueAt,
	})
}
