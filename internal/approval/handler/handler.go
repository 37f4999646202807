package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"gatekeeper/internal/approval/models"
	"gatekeeper/internal/approval/service"
	auditmodels "gatekeeper/internal/audit/models"
	id "gatekeeper/pkg/domain"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/platform/httputil"
	"gatekeeper/pkg/requestcontext"
)

// Service is the approval API consumed by the handler.
type Service interface {
	Route(ctx context.Context, req service.RouteRequest) (*models.Item, error)
	Get(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID) (*models.Item, error)
	List(ctx context.Context, tenantID id.TenantID, filter models.ListFilter) ([]*models.Item, error)
	Decide(ctx context.Context, req service.DecideRequest) (*models.Item, error)
	DecideBulk(ctx context.Context, req service.BulkDecideRequest) (*service.BulkResult, error)
}

// History reads an item's audit trail.
type History interface {
	ListByApproval(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID) ([]*auditmodels.Record, error)
}

// Handler serves the approval endpoints. Routes expect the auth middleware to
// have placed the tenant and actor in the request context.
type Handler struct {
	approvals Service
	history   History
	logger    *slog.Logger
}

func New(approvals Service, history History, logger *slog.Logger) *Handler {
	return &Handler{approvals: approvals, history: history, logger: logger}
}

// Register mounts the approval routes under /v1/approvals.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/approvals", func(r chi.Router) {
		r.Post("/", h.handleRoute)
		r.Get("/", h.handleList)
		r.Post("/decisions", h.handleBulkDecision)
		r.Get("/{id}", h.handleGet)
		r.Get("/{id}/history", h.handleHistory)
		r.Post("/{id}/decision", h.handleDecision)
	})
}

func (h *Handler) handleRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RouteRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	item, err := h.approvals.Route(ctx, service.RouteRequest{
		TenantID:        tenantID,
		ProposalID:      req.ProposalID,
		Kind:            req.Kind,
		Title:           req.Title,
		Payload:         req.Payload,
		Factors:         req.factors(),
		Priority:        req.Priority,
		AIReasoning:     req.AIReasoning,
		EscalationChain: req.chain(),
	})
	if err != nil {
		h.fail(ctx, w, "failed to route proposal", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(item))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	approvalID, ok := h.approvalID(w, r)
	if !ok {
		return
	}
	item, err := h.approvals.Get(ctx, tenantID, approvalID)
	if err != nil {
		h.fail(ctx, w, "failed to load approval", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(item))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	items, err := h.approvals.List(ctx, tenantID, filter)
	if err != nil {
		h.fail(ctx, w, "failed to list approvals", err)
		return
	}
	resp := listResponse{Items: make([]ItemResponse, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, toResponse(item))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	approvalID, ok := h.approvalID(w, r)
	if !ok {
		return
	}
	// 404 for items of other tenants rather than an empty history.
	if _, err := h.approvals.Get(ctx, tenantID, approvalID); err != nil {
		h.fail(ctx, w, "failed to load approval", err)
		return
	}
	records, err := h.history.ListByApproval(ctx, tenantID, approvalID)
	if err != nil {
		h.fail(ctx, w, "failed to load approval history", dErrors.Wrap(err, dErrors.CodeUnavailable, "audit store unavailable"))
		return
	}
	if records == nil {
		records = []*auditmodels.Record{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	approvalID, ok := h.approvalID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[DecisionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	item, err := h.approvals.Decide(ctx, service.DecideRequest{
		TenantID:        tenantID,
		ApprovalID:      approvalID,
		ActorID:         requestcontext.ActorID(ctx),
		Outcome:         req.Outcome,
		Notes:           req.Notes,
		RejectionReason: req.RejectionReason,
	})
	if err != nil {
		h.fail(ctx, w, "failed to record decision", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(item))
}

func (h *Handler) handleBulkDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[BulkDecisionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.approvals.DecideBulk(ctx, service.BulkDecideRequest{
		TenantID:        tenantID,
		ApprovalIDs:     req.parsed,
		ActorID:         requestcontext.ActorID(ctx),
		Outcome:         req.Outcome,
		Notes:           req.Notes,
		RejectionReason: req.RejectionReason,
	})
	if err != nil {
		h.fail(ctx, w, "failed to record bulk decision", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) tenant(w http.ResponseWriter, r *http.Request) (id.TenantID, bool) {
	tenantID := requestcontext.TenantID(r.Context())
	if tenantID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return id.TenantID{}, false
	}
	return tenantID, true
}

func (h *Handler) approvalID(w http.ResponseWriter, r *http.Request) (id.ApprovalID, bool) {
	approvalID, err := id.ParseApprovalID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.ApprovalID{}, false
	}
	return approvalID, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	code := dErrors.CodeOf(err)
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"tenant_id", requestcontext.TenantID(ctx),
		"error", err,
	}
	if code == dErrors.CodeInternal || code == dErrors.CodeUnavailable {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.InfoContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}

func parseFilter(r *http.Request) (models.ListFilter, error) {
	q := r.URL.Query()
	var filter models.ListFilter
	if raw := q.Get("status"); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Status = status
	}
	if raw := q.Get("assigned_to"); raw != "" {
		filter.AssignedTo = id.ActorID(raw)
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 500 {
			return filter, dErrors.New(dErrors.CodeValidation, "limit must be between 1 and 500")
		}
		filter.Limit = limit
	}
	filter.IncludeArchived = q.Get("include_archived") == "true"
	return filter, nil
}
