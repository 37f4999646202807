package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gatekeeper/internal/dispatcher/models"
	"gatekeeper/internal/events"
	"gatekeeper/internal/platform/postgres"
	id "gatekeeper/pkg/domain"
	"gatekeeper/pkg/platform/sentinel"
	txcontext "gatekeeper/pkg/platform/tx"
)

// PostgresRetries persists parked events in dispatch_retries.
type PostgresRetries struct {
	db *sql.DB
}

func NewPostgresRetries(db *sql.DB) *PostgresRetries {
	return &PostgresRetries{db: db}
}

const retryColumns = `seq, consumer_group, event, replay_group, attempts, last_error, history, next_retry_at, enqueued_at`

func (s *PostgresRetries) Park(ctx context.Context, entry *models.RetryEntry) error {
	event, history, err := encodeDelivery(entry.Event, entry.History)
	if err != nil {
		return err
	}
	err = txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO dispatch_retries
			(consumer_group, event_id, approval_item_id, event, replay_group, attempts, last_error, history, next_retry_at, enqueued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq`,
		entry.Group, entry.Event.ID, entry.Event.ApprovalItemID, event, replayGroup(entry.Event), entry.Attempts,
		entry.LastError, history, entry.NextRetryAt, entry.EnqueuedAt,
	).Scan(&entry.Seq)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return wrapErr("park retry", err)
	}
	return nil
}

func (s *PostgresRetries) HasPending(ctx context.Context, group string, itemID id.ApprovalID) (bool, error) {
	var exists bool
	err := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM dispatch_retries WHERE consumer_group = $1 AND approval_item_id = $2)`,
		group, itemID).Scan(&exists)
	if err != nil {
		return false, wrapErr("check pending retries", err)
	}
	return exists, nil
}

func (s *PostgresRetries) DueHeads(ctx context.Context, group string, now time.Time, limit int) ([]*models.RetryEntry, error) {
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, `
		SELECT `+retryColumns+` FROM (
			SELECT DISTINCT ON (approval_item_id) `+retryColumns+`
			FROM dispatch_retries
			WHERE consumer_group = $1
			ORDER BY approval_item_id, seq
		) heads
		WHERE next_retry_at <= $2
		ORDER BY next_retry_at, seq
		LIMIT $3`, group, now, limit)
	if err != nil {
		return nil, wrapErr("list due retries", err)
	}
	defer rows.Close()

	var out []*models.RetryEntry
	for rows.Next() {
		var (
			e              models.RetryEntry
			event, history []byte
			replay         sql.NullString
		)
		if err := rows.Scan(&e.Seq, &e.Group, &event, &replay, &e.Attempts, &e.LastError, &history, &e.NextRetryAt, &e.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("scan retry: %w", err)
		}
		if e.Event, e.History, err = decodeDelivery(event, history); err != nil {
			return nil, err
		}
		if replay.Valid {
			e.Event = e.Event.AsReplay(replay.String)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate retries", err)
	}
	return out, nil
}

func (s *PostgresRetries) Update(ctx context.Context, entry *models.RetryEntry) error {
	history, err := json.Marshal(entry.History)
	if err != nil {
		return fmt.Errorf("marshal attempt history: %w", err)
	}
	res, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		UPDATE dispatch_retries
		SET attempts = $3, last_error = $4, history = $5, next_retry_at = $6
		WHERE consumer_group = $1 AND event_id = $2`,
		entry.Group, entry.Event.ID, entry.Attempts, entry.LastError, history, entry.NextRetryAt)
	if err != nil {
		return wrapErr("update retry", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresRetries) Remove(ctx context.Context, group string, eventID id.EventID) error {
	_, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx,
		`DELETE FROM dispatch_retries WHERE consumer_group = $1 AND event_id = $2`, group, eventID)
	if err != nil {
		return wrapErr("remove retry", err)
	}
	return nil
}

func (s *PostgresRetries) Count(ctx context.Context, group string) (int, error) {
	var n int
	err := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT count(*) FROM dispatch_retries WHERE consumer_group = $1`, group).Scan(&n)
	if err != nil {
		return 0, wrapErr("count retries", err)
	}
	return n, nil
}

// PostgresDeadLetters persists dead letters.
type PostgresDeadLetters struct {
	db *sql.DB
}

func NewPostgresDeadLetters(db *sql.DB) *PostgresDeadLetters {
	return &PostgresDeadLetters{db: db}
}

const letterColumns = `
	id, consumer_group, event, attempts, last_error, history, dead_at,
	replayed_at, replay_count, resolved_at, resolved_by, resolution_note`

// Add inserts the dead letter, or reopens the existing one for the same group
// and event.
func (s *PostgresDeadLetters) Add(ctx context.Context, dl *models.DeadLetter) error {
	event, history, err := encodeDelivery(dl.Event, dl.History)
	if err != nil {
		return err
	}
	err = txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO dead_letters
			(id, consumer_group, event_id, tenant_id, approval_item_id, event_type, event,
			 attempts, last_error, history, dead_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (consumer_group, event_id) DO UPDATE SET
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			history = EXCLUDED.history,
			dead_at = EXCLUDED.dead_at,
			resolved_at = NULL,
			resolved_by = NULL,
			resolution_note = NULL
		RETURNING id, replay_count`,
		dl.ID, dl.Group, dl.Event.ID, dl.Event.TenantID, dl.Event.ApprovalItemID, dl.Event.Type,
		event, dl.Attempts, dl.LastError, history, dl.DeadAt,
	).Scan(&dl.ID, &dl.ReplayCount)
	if err != nil {
		return wrapErr("add dead letter", err)
	}
	return nil
}

func (s *PostgresDeadLetters) Get(ctx context.Context, letterID id.DeadLetterID) (*models.DeadLetter, error) {
	row := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+letterColumns+` FROM dead_letters WHERE id = $1`, letterID)
	dl, err := scanLetter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return dl, err
}

func (s *PostgresDeadLetters) List(ctx context.Context, group string, includeResolved bool) ([]*models.DeadLetter, error) {
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, `
		SELECT `+letterColumns+` FROM dead_letters
		WHERE ($1 = '' OR consumer_group = $1) AND ($2 OR resolved_at IS NULL)
		ORDER BY dead_at`, group, includeResolved)
	if err != nil {
		return nil, wrapErr("list dead letters", err)
	}
	defer rows.Close()

	var out []*models.DeadLetter
	for rows.Next() {
		dl, err := scanLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate dead letters", err)
	}
	return out, nil
}

func (s *PostgresDeadLetters) MarkReplayed(ctx context.Context, letterID id.DeadLetterID, at time.Time) error {
	res, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx,
		`UPDATE dead_letters SET replayed_at = $2, replay_count = replay_count + 1 WHERE id = $1`,
		letterID, at)
	if err != nil {
		return wrapErr("mark dead letter replayed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresDeadLetters) Resolve(ctx context.Context, letterID id.DeadLetterID, actor id.ActorID, note string, at time.Time) error {
	res, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		UPDATE dead_letters SET resolved_at = $2, resolved_by = $3, resolution_note = $4
		WHERE id = $1 AND resolved_at IS NULL`,
		letterID, at, actor, note)
	if err != nil {
		return wrapErr("resolve dead letter", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, letterID); err != nil {
		return err
	}
	return sentinel.ErrConflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLetter(row rowScanner) (*models.DeadLetter, error) {
	var (
		dl             models.DeadLetter
		event, history []byte
		replayedAt     sql.NullTime
		resolvedAt     sql.NullTime
		resolvedBy     sql.NullString
		note           sql.NullString
	)
	err := row.Scan(&dl.ID, &dl.Group, &event, &dl.Attempts, &dl.LastError, &history, &dl.DeadAt,
		&replayedAt, &dl.ReplayCount, &resolvedAt, &resolvedBy, &note)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan dead letter: %w", err)
	}
	if dl.Event, dl.History, err = decodeDelivery(event, history); err != nil {
		return nil, err
	}
	if replayedAt.Valid {
		dl.ReplayedAt = &replayedAt.Time
	}
	if resolvedAt.Valid {
		dl.ResolvedAt = &resolvedAt.Time
	}
	dl.ResolvedBy = id.ActorID(resolvedBy.String)
	dl.ResolutionNote = note.String
	return &dl, nil
}

// replayGroup is NULL for a normal delivery and the target group (possibly
// empty) for a replayed one.
func replayGroup(e events.Event) sql.NullString {
	return sql.NullString{String: e.ReplayGroup, Valid: e.Replay}
}

// encodeDelivery stores the logical event only; replay markers belong to a
// single delivery.
func encodeDelivery(e events.Event, history []models.Attempt) ([]byte, []byte, error) {
	event, err := events.Marshal(e)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal event: %w", err)
	}
	if history == nil {
		history = []models.Attempt{}
	}
	h, err := json.Marshal(history)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal attempt history: %w", err)
	}
	return event, h, nil
}

func decodeDelivery(event, history []byte) (events.Event, []models.Attempt, error) {
	e, err := events.Unmarshal(event)
	if err != nil {
		return events.Event{}, nil, err
	}
	var h []models.Attempt
	if len(history) > 0 {
		if err := json.Unmarshal(history, &h); err != nil {
			return events.Event{}, nil, fmt.Errorf("decode attempt history: %w", err)
		}
	}
	return e, h, nil
}

func wrapErr(op string, err error) error {
	if postgres.IsTransient(err) {
		return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
