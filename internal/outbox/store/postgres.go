package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"gatekeeper/internal/events"
	"gatekeeper/internal/outbox/models"
	"gatekeeper/internal/platform/postgres"
	id "gatekeeper/pkg/domain"
	"gatekeeper/pkg/platform/sentinel"
	txcontext "gatekeeper/pkg/platform/tx"
)

// PostgresStore persists outbox entries. Append joins the caller's transaction
// so the entry commits or rolls back with the state change it describes.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, entries ...*models.Entry) error {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	for _, e := range entries {
		err := exec.QueryRowContext(ctx, `
			INSERT INTO outbox (id, tenant_id, aggregate_id, event_type, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING seq
		`, e.ID, e.TenantID, e.AggregateID, string(e.EventType), e.Payload, e.CreatedAt).Scan(&e.Seq)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return sentinel.ErrAlreadyUsed
			}
			return wrapErr("insert outbox entry", err)
		}
	}
	return nil
}

func (s *PostgresStore) FetchUnpublished(ctx context.Context, limit int) ([]*models.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, tenant_id, aggregate_id, event_type, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, wrapErr("query outbox", err)
	}
	defer rows.Close()

	var out []*models.Entry
	for rows.Next() {
		var (
			e         models.Entry
			eventType string
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.TenantID, &e.AggregateID, &eventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		e.EventType = events.Type(eventType)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate outbox", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkPublished(ctx context.Context, ids []id.EventID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, len(ids))
	for i, eventID := range ids {
		raw[i] = eventID.String()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET published_at = $2
		WHERE id = ANY($1::uuid[]) AND published_at IS NULL
	`, pq.Array(raw), at)
	if err != nil {
		return wrapErr("mark outbox published", err)
	}
	return nil
}

func (s *PostgresStore) Purge(ctx context.Context, publishedBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM outbox WHERE published_at IS NOT NULL AND published_at < $1
	`, publishedBefore)
	if err != nil {
		return 0, wrapErr("purge outbox", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge outbox rows affected: %w", err)
	}
	return int(n), nil
}

func wrapErr(op string, err error) error {
	if postgres.IsTransient(err) {
		return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
