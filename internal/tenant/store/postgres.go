package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gatekeeper/internal/tenant/models"
	id "gatekeeper/pkg/domain"
	"gatekeeper/pkg/platform/sentinel"
)

// PostgresStore persists settings in the tenant_settings table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, tenantID id.TenantID) (*models.Settings, error) {
	var (
		out      models.Settings
		fallback string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, auto_approve_threshold, quick_review_threshold,
		       default_sla_hours, urgent_sla_hours, fallback_approver,
		       renotify_before_escalating, updated_at
		FROM tenant_settings
		WHERE tenant_id = $1
	`, tenantID).Scan(
		&out.TenantID, &out.AutoApproveThreshold, &out.QuickReviewThreshold,
		&out.DefaultSLAHours, &out.UrgentSLAHours, &fallback,
		&out.RenotifyBeforeEscalating, &out.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select tenant settings: %w", err)
	}
	out.FallbackApprover = id.ActorID(fallback)
	return &out, nil
}

func (s *PostgresStore) Put(ctx context.Context, settings *models.Settings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_settings (
			tenant_id, auto_approve_threshold, quick_review_threshold,
			default_sla_hours, urgent_sla_hours, fallback_approver,
			renotify_before_escalating, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (tenant_id) DO UPDATE SET
			auto_approve_threshold = EXCLUDED.auto_approve_threshold,
			quick_review_threshold = EXCLUDED.quick_review_threshold,
			default_sla_hours = EXCLUDED.default_sla_hours,
			urgent_sla_hours = EXCLUDED.urgent_sla_hours,
			fallback_approver = EXCLUDED.fallback_approver,
			renotify_before_escalating = EXCLUDED.renotify_before_escalating,
			updated_at = now()
	`, settings.TenantID, settings.AutoApproveThreshold, settings.QuickReviewThreshold,
		settings.DefaultSLAHours, settings.UrgentSLAHours, settings.FallbackApprover.String(),
		settings.RenotifyBeforeEscalating)
	if err != nil {
		return fmt.Errorf("upsert tenant settings: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTenants(ctx context.Context) ([]id.TenantID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant_id FROM tenant_settings ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
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
	return out, rows.Err()
}
