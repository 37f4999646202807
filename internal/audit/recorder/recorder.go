// Package recorder turns approval events into audit records. It runs as the
// "audit" consumer group.
package recorder

import (
	"context"
	"log/slog"
	"time"

	"gatekeeper/internal/audit/models"
	"gatekeeper/internal/events"
)

const (
	Group   = "audit"
	Pattern = "approval.*"
)

// Store appends records idempotently on event id.
type Store interface {
	Append(ctx context.Context, rec *models.Record) (bool, error)
}

type Recorder struct {
	store  Store
	logger *slog.Logger
	clock  func() time.Time
}

func New(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger, clock: time.Now}
}

// Handle records the event once. Redelivery of a recorded event is a no-op.
func (r *Recorder) Handle(ctx context.Context, e events.Event) error {
	rec, err := models.FromEvent(e, r.clock())
	if err != nil {
		return err
	}
	inserted, err := r.store.Append(ctx, rec)
	if err != nil {
		return err
	}
	if !inserted {
		r.logger.DebugContext(ctx, "audit record already present",
			"event_id", e.ID.String(),
			"replay", e.Replay,
		)
	}
	return nil
}
