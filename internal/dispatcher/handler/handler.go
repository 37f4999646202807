// Package handler exposes dead-letter inspection and replay to operators.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"gatekeeper/internal/dispatcher"
	"gatekeeper/internal/dispatcher/models"
	id "gatekeeper/pkg/domain"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/platform/httputil"
	"gatekeeper/pkg/requestcontext"
)

// Operations is the dispatcher surface used by operators.
type Operations interface {
	ListDeadLetters(ctx context.Context, group string, includeResolved bool) ([]*models.DeadLetter, error)
	GetDeadLetter(ctx context.Context, letterID id.DeadLetterID) (*models.DeadLetter, error)
	ReplayDeadLetter(ctx context.Context, letterID id.DeadLetterID) (*models.DeadLetter, error)
	ResolveDeadLetter(ctx context.Context, letterID id.DeadLetterID, actor id.ActorID, note string) error
	ReplayRange(ctx context.Context, req dispatcher.ReplayRangeRequest) (int, error)
}

type Handler struct {
	ops    Operations
	logger *slog.Logger
}

func New(ops Operations, logger *slog.Logger) *Handler {
	return &Handler{ops: ops, logger: logger}
}

// Register mounts the admin routes. The caller wraps r with the admin token
// middleware.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/admin", func(r chi.Router) {
		r.Get("/dead-letters", h.handleList)
		r.Get("/dead-letters/{id}", h.handleGet)
		r.Post("/dead-letters/{id}/replay", h.handleReplay)
		r.Post("/dead-letters/{id}/resolve", h.handleResolve)
		r.Post("/replay", h.handleReplayRange)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	includeResolved := false
	if raw := q.Get("include_resolved"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "include_resolved must be a boolean"))
			return
		}
		includeResolved = v
	}
	letters, err := h.ops.ListDeadLetters(ctx, q.Get("group"), includeResolved)
	if err != nil {
		h.fail(ctx, w, "failed to list dead letters", err)
		return
	}
	if letters == nil {
		letters = []*models.DeadLetter{}
	}
	httputil.WriteJSON(w, http.StatusOK, deadLetterList{DeadLetters: letters})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	letterID, ok := h.letterID(w, r)
	if !ok {
		return
	}
	dl, err := h.ops.GetDeadLetter(r.Context(), letterID)
	if err != nil {
		h.fail(r.Context(), w, "failed to load dead letter", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, dl)
}

func (h *Handler) handleReplay(w http.ResponseWriter, r *http.Request) {
	letterID, ok := h.letterID(w, r)
	if !ok {
		return
	}
	dl, err := h.ops.ReplayDeadLetter(r.Context(), letterID)
	if err != nil {
		h.fail(r.Context(), w, "failed to replay dead letter", err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, dl)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	letterID, ok := h.letterID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ResolveRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.ops.ResolveDeadLetter(ctx, letterID, req.actor, req.Note); err != nil {
		h.fail(ctx, w, "failed to resolve dead letter", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReplayRange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[ReplayRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	n, err := h.ops.ReplayRange(ctx, dispatcher.ReplayRangeRequest{
		From:  req.From,
		To:    req.To,
		Types: req.types,
		Group: req.Group,
	})
	if err != nil {
		h.fail(ctx, w, "failed to replay time range", err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, replayResponse{Replayed: n})
}

func (h *Handler) letterID(w http.ResponseWriter, r *http.Request) (id.DeadLetterID, bool) {
	letterID, err := id.ParseDeadLetterID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.DeadLetterID{}, false
	}
	return letterID, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	code := dErrors.CodeOf(err)
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	}
	if code == dErrors.CodeInternal || code == dErrors.CodeUnavailable {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.InfoContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}
