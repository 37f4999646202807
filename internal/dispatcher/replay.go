package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"gatekeeper/internal/dispatcher/models"
	"gatekeeper/internal/eventlog"
	"gatekeeper/internal/events"
	id "gatekeeper/pkg/domain"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/platform/sentinel"
)

const replayBatch = 100

// ReplayRangeRequest selects events for time-range replay. Empty Types means
// every type; empty Group delivers to every subscribed group.
type ReplayRangeRequest struct {
	From  time.Time
	To    time.Time
	Types []events.Type
	Group string
}

func (d *Dispatcher) ListDeadLetters(ctx context.Context, group string, includeResolved bool) ([]*models.DeadLetter, error) {
	if group != "" && d.subscription(group) == nil {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown consumer group %q", group))
	}
	letters, err := d.dead.List(ctx, group, includeResolved)
	if err != nil {
		return nil, translate(err, "failed to list dead letters")
	}
	return letters, nil
}

func (d *Dispatcher) GetDeadLetter(ctx context.Context, letterID id.DeadLetterID) (*models.DeadLetter, error) {
	dl, err := d.dead.Get(ctx, letterID)
	if err != nil {
		return nil, translate(err, "failed to load dead letter")
	}
	return dl, nil
}

// ReplayDeadLetter re-appends the event with a replay marker for the owning
// group only. The dead letter stays open until resolved.
func (d *Dispatcher) ReplayDeadLetter(ctx context.Context, letterID id.DeadLetterID) (*models.DeadLetter, error) {
	dl, err := d.dead.Get(ctx, letterID)
	if err != nil {
		return nil, translate(err, "failed to load dead letter")
	}
	if dl.IsResolved() {
		return nil, dErrors.New(dErrors.CodeConflict, "dead letter already resolved")
	}
	if err := d.log.Append(ctx, dl.Event.AsReplay(dl.Group)); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "event log unavailable")
	}
	now := d.clock().UTC()
	if err := d.dead.MarkReplayed(ctx, dl.ID, now); err != nil {
		return nil, translate(err, "failed to mark dead letter replayed")
	}
	dl.ReplayCount++
	dl.ReplayedAt = &now
	d.metrics.AddReplayed("dead_letter", 1)
	d.logger.InfoContext(ctx, "dead letter replayed",
		"dead_letter_id", dl.ID.String(),
		"group", dl.Group,
		"event_id", dl.Event.ID.String(),
	)
	return dl, nil
}

func (d *Dispatcher) ResolveDeadLetter(ctx context.Context, letterID id.DeadLetterID, actor id.ActorID, note string) error {
	if actor.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "actor is required to resolve a dead letter")
	}
	if err := d.dead.Resolve(ctx, letterID, actor, note, d.clock().UTC()); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.New(dErrors.CodeConflict, "dead letter already resolved")
		}
		return translate(err, "failed to resolve dead letter")
	}
	d.logger.InfoContext(ctx, "dead letter resolved",
		"dead_letter_id", letterID.String(),
		"actor_id", actor.String(),
	)
	return nil
}

// ReplayRange re-appends every logical event appended within [From, To) that
// matches the type filter. Earlier replay copies in the range are skipped.
func (d *Dispatcher) ReplayRange(ctx context.Context, req ReplayRangeRequest) (int, error) {
	if req.From.IsZero() || req.To.IsZero() || !req.From.Before(req.To) {
		return 0, dErrors.New(dErrors.CodeValidation, "from must be before to")
	}
	if req.Group != "" && d.subscription(req.Group) == nil {
		return 0, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown consumer group %q", req.Group))
	}

	var batch []events.Event
	total := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := d.log.Append(ctx, batch...); err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "event log unavailable")
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	err := d.log.ReadRange(ctx, req.From, req.To, func(rec eventlog.Record) error {
		if rec.Err != nil || rec.Event.Replay {
			return nil
		}
		if len(req.Types) > 0 && !slices.Contains(req.Types, rec.Event.Type) {
			return nil
		}
		batch = append(batch, rec.Event.AsReplay(req.Group))
		if len(batch) >= replayBatch {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		if _, ok := dErrors.Is(err); ok {
			return total, err
		}
		return total, dErrors.Wrap(err, dErrors.CodeUnavailable, "event log unavailable")
	}
	d.metrics.AddReplayed("range", total)
	d.logger.InfoContext(ctx, "time range replayed",
		"from", req.From,
		"to", req.To,
		"group", req.Group,
		"events", total,
	)
	return total, nil
}

func translate(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "dead letter not found")
	case errors.Is(err, sentinel.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
