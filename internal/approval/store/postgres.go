package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"gatekeeper/internal/approval/models"
	"gatekeeper/internal/confidence"
	"gatekeeper/internal/platform/postgres"
	id "gatekeeper/pkg/domain"
	"gatekeeper/pkg/platform/sentinel"
	txcontext "gatekeeper/pkg/platform/tx"
)

// PostgresStore persists approval items. Writes join the context transaction
// when one is present so the item and its outbox entry commit together.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const itemColumns = `
	id, tenant_id, idempotency_key, kind, title, payload, priority,
	confidence_score, factors, ai_reasoning, recommendation, status,
	assigned_to, escalation_chain, escalation_level, escalation_history,
	fallback_used, reminded, created_at, updated_at, due_at, decided_at,
	decided_by, decision_notes, rejection_reason, archived_at, version`

func (s *PostgresStore) Create(ctx context.Context, item *models.Item) error {
	args, err := itemArgs(item)
	if err != nil {
		return err
	}
	query := `INSERT INTO approval_items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`
	if _, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, query, args...); err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return wrapErr("insert approval item", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID) (*models.Item, error) {
	row := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM approval_items WHERE tenant_id = $1 AND id = $2`,
		tenantID, approvalID)
	return scanItem(row)
}

func (s *PostgresStore) GetByIdempotencyKey(ctx context.Context, tenantID id.TenantID, key string) (*models.Item, error) {
	row := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM approval_items WHERE tenant_id = $1 AND idempotency_key = $2`,
		tenantID, key)
	return scanItem(row)
}

// Update is a compare-and-swap on version. Zero rows means either the item is
// gone for this tenant or someone else won the race.
func (s *PostgresStore) Update(ctx context.Context, item *models.Item, expectedVersion int64) error {
	chain, history, err := encodeEscalation(item)
	if err != nil {
		return err
	}
	res, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		UPDATE approval_items SET
			status = $4, assigned_to = $5, escalation_chain = $6, escalation_level = $7,
			escalation_history = $8, fallback_used = $9, reminded = $10, updated_at = $11,
			due_at = $12, decided_at = $13, decided_by = $14, decision_notes = $15,
			rejection_reason = $16, archived_at = $17, version = version + 1
		WHERE tenant_id = $1 AND id = $2 AND version = $3
	`, item.TenantID, item.ID, expectedVersion,
		string(item.Status), nullActor(item.AssignedTo), chain, item.EscalationLevel,
		history, item.FallbackUsed, item.Reminded, item.UpdatedAt,
		item.DueAt, item.DecidedAt, nullActor(item.DecidedBy), nullString(item.DecisionNotes),
		nullString(item.RejectionReason), item.ArchivedAt)
	if err != nil {
		return wrapErr("update approval item", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("update approval item", err)
	}
	if n == 0 {
		var exists bool
		if err := txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM approval_items WHERE tenant_id = $1 AND id = $2)`,
			item.TenantID, item.ID).Scan(&exists); err != nil {
			return wrapErr("check approval item", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	item.Version = expectedVersion + 1
	return nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID id.TenantID, filter models.ListFilter) ([]*models.Item, error) {
	var (
		where = []string{"tenant_id = $1"}
		args  = []any{tenantID}
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.AssignedTo.IsZero() {
		args = append(args, filter.AssignedTo.String())
		where = append(where, fmt.Sprintf("assigned_to = $%d", len(args)))
	}
	if !filter.IncludeArchived {
		where = append(where, "archived_at IS NULL")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	query := `SELECT ` + itemColumns + ` FROM approval_items WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, len(args))
	return s.query(ctx, query, args...)
}

func (s *PostgresStore) ListDue(ctx context.Context, tenantID id.TenantID, now time.Time, limit int) ([]*models.Item, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.query(ctx, `
		SELECT `+itemColumns+` FROM approval_items
		WHERE tenant_id = $1 AND status IN ('pending', 'escalated')
		  AND archived_at IS NULL AND due_at <= $2
		ORDER BY due_at
		LIMIT $3`, tenantID, now, limit)
}

func (s *PostgresStore) ArchiveDecided(ctx context.Context, tenantID id.TenantID, cutoff, now time.Time) (int, error) {
	res, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		UPDATE approval_items SET archived_at = $3, version = version + 1
		WHERE tenant_id = $1 AND archived_at IS NULL AND updated_at < $2
		  AND status IN ('auto_approved', 'approved', 'rejected', 'expired')
	`, tenantID, cutoff, now)
	if err != nil {
		return 0, wrapErr("archive approval items", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("archive approval items", err)
	}
	return int(n), nil
}

func (s *PostgresStore) ActiveTenants(ctx context.Context) ([]id.TenantID, error) {
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx,
		`SELECT DISTINCT tenant_id FROM approval_items WHERE archived_at IS NULL ORDER BY tenant_id`)
	if err != nil {
		return nil, wrapErr("list active tenants", err)
	}
	defer rows.Close()
	var out []id.TenantID
	for rows.Next() {
		var tenantID id.TenantID
		if err := rows.Scan(&tenantID); err != nil {
			return nil, fmt.Errorf("scan tenant id: %w", err)
		}
		out = append(out, tenantID)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list active tenants", err)
	}
	return out, nil
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*models.Item, error) {
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("query approval items", err)
	}
	defer rows.Close()
	var out []*models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate approval items", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*models.Item, error) {
	var (
		item                                  models.Item
		payload, factors, history             []byte
		chain                                 []string
		assignedTo, decidedBy, notes, reason  sql.NullString
		decidedAt, archivedAt                 sql.NullTime
		kind, priority, recommendation, state string
	)
	err := row.Scan(
		&item.ID, &item.TenantID, &item.IdempotencyKey, &kind, &item.Title, &payload, &priority,
		&item.ConfidenceScore, &factors, &item.AIReasoning, &recommendation, &state,
		&assignedTo, pq.Array(&chain), &item.EscalationLevel, &history,
		&item.FallbackUsed, &item.Reminded, &item.CreatedAt, &item.UpdatedAt, &item.DueAt, &decidedAt,
		&decidedBy, &notes, &reason, &archivedAt, &item.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("scan approval item", err)
	}

	item.Kind = models.Kind(kind)
	item.Priority = models.Priority(priority)
	item.Recommendation = confidence.Recommendation(recommendation)
	item.Status = models.Status(state)
	if len(payload) > 0 {
		item.Payload = json.RawMessage(payload)
	}
	if err := json.Unmarshal(factors, &item.Factors); err != nil {
		return nil, fmt.Errorf("decode factors: %w", err)
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &item.EscalationHistory); err != nil {
			return nil, fmt.Errorf("decode escalation history: %w", err)
		}
	}
	if len(item.EscalationHistory) == 0 {
		item.EscalationHistory = nil
	}
	for _, a := range chain {
		item.EscalationChain = append(item.EscalationChain, id.ActorID(a))
	}
	item.AssignedTo = id.ActorID(assignedTo.String)
	item.DecidedBy = id.ActorID(decidedBy.String)
	item.DecisionNotes = notes.String
	item.RejectionReason = reason.String
	if decidedAt.Valid {
		t := decidedAt.Time.UTC()
		item.DecidedAt = &t
	}
	if archivedAt.Valid {
		t := archivedAt.Time.UTC()
		item.ArchivedAt = &t
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	item.DueAt = item.DueAt.UTC()
	return &item, nil
}

func itemArgs(item *models.Item) ([]any, error) {
	factors, err := json.Marshal(item.Factors)
	if err != nil {
		return nil, fmt.Errorf("encode factors: %w", err)
	}
	chain, history, err := encodeEscalation(item)
	if err != nil {
		return nil, err
	}
	var payload any
	if len(item.Payload) > 0 {
		payload = []byte(item.Payload)
	}
	return []any{
		item.ID, item.TenantID, item.IdempotencyKey, string(item.Kind), item.Title, payload,
		string(item.Priority), item.ConfidenceScore, factors, item.AIReasoning,
		string(item.Recommendation), string(item.Status), nullActor(item.AssignedTo), chain,
		item.EscalationLevel, history, item.FallbackUsed, item.Reminded, item.CreatedAt,
		item.UpdatedAt, item.DueAt, item.DecidedAt, nullActor(item.DecidedBy),
		nullString(item.DecisionNotes), nullString(item.RejectionReason), item.ArchivedAt, item.Version,
	}, nil
}

func encodeEscalation(item *models.Item) (any, []byte, error) {
	chain := make([]string, len(item.EscalationChain))
	for i, a := range item.EscalationChain {
		chain[i] = a.String()
	}
	steps := item.EscalationHistory
	if steps == nil {
		steps = []models.EscalationStep{}
	}
	history, err := json.Marshal(steps)
	if err != nil {
		return nil, nil, fmt.Errorf("encode escalation history: %w", err)
	}
	return pq.Array(chain), history, nil
}

func nullActor(a id.ActorID) sql.NullString {
	return sql.NullString{String: a.String(), Valid: !a.IsZero()}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// wrapErr marks connection-level failures as unavailable so the service retries them.
func wrapErr(op string, err error) error {
	if postgres.IsTransient(err) {
		return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
