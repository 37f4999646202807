package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"gatekeeper/internal/audit/models"
	"gatekeeper/internal/events"
	"gatekeeper/internal/platform/postgres"
	id "gatekeeper/pkg/domain"
	"gatekeeper/pkg/platform/sentinel"
)

// PostgresStore materializes audit records. Inserts are idempotent on event_id.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, rec *models.Record) (bool, error) {
	before, err := marshalSnapshot(rec.SnapshotBefore)
	if err != nil {
		return false, err
	}
	after, err := marshalSnapshot(rec.SnapshotAfter)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_records (
			event_id, tenant_id, approval_item_id, event_type, from_status, to_status,
			actor_id, reason, occurred_at, snapshot_before, snapshot_after, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (event_id) DO NOTHING
	`,
		rec.EventID,
		rec.TenantID,
		rec.ApprovalItemID,
		string(rec.EventType),
		rec.FromStatus,
		rec.ToStatus,
		string(rec.ActorID),
		rec.Reason,
		rec.OccurredAt,
		before,
		after,
		rec.RecordedAt,
	)
	if err != nil {
		if postgres.IsTransient(err) {
			return false, fmt.Errorf("insert audit record: %w: %w", sentinel.ErrUnavailable, err)
		}
		return false, fmt.Errorf("insert audit record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("audit rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) ListByApproval(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID) ([]*models.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, tenant_id, approval_item_id, event_type, from_status, to_status,
			   actor_id, reason, occurred_at, snapshot_before, snapshot_after, recorded_at
		FROM audit_records
		WHERE tenant_id = $1 AND approval_item_id = $2
		ORDER BY occurred_at, recorded_at
	`, tenantID, approvalID)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		var (
			rec           models.Record
			eventType     string
			actor         string
			before, after []byte
		)
		if err := rows.Scan(
			&rec.EventID, &rec.TenantID, &rec.ApprovalItemID, &eventType, &rec.FromStatus, &rec.ToStatus,
			&actor, &rec.Reason, &rec.OccurredAt, &before, &after, &rec.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.EventType = events.Type(eventType)
		rec.ActorID = id.ActorID(actor)
		if rec.SnapshotBefore, err = unmarshalSnapshot(before); err != nil {
			return nil, err
		}
		if rec.SnapshotAfter, err = unmarshalSnapshot(after); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return out, nil
}

// marshalSnapshot returns nil for an empty snapshot so the column stays NULL.
func marshalSnapshot(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode audit snapshot: %w", err)
	}
	return b, nil
}

func unmarshalSnapshot(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode audit snapshot: %w", err)
	}
	return m, nil
}
