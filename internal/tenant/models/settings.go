package models

import (
	"time"

	"gatekeeper/internal/confidence"
	id "gatekeeper/pkg/domain"
	dErrors "gatekeeper/pkg/domain-errors"
)

const (
	DefaultSLAHours       = 48
	DefaultUrgentSLAHours = 4
)

// Settings is the per-tenant routing and escalation configuration. It is
// loaded once per routing or sweep call and never held as process state.
//
// Invariants:
//   - 0 < QuickReviewThreshold < AutoApproveThreshold <= 100
//   - DefaultSLAHours and UrgentSLAHours are positive
type Settings struct {
	TenantID             id.TenantID `json:"tenant_id" yaml:"tenant_id"`
	AutoApproveThreshold int         `json:"auto_approve_threshold" yaml:"auto_approve_threshold"`
	QuickReviewThreshold int         `json:"quick_review_threshold" yaml:"quick_review_threshold"`
	DefaultSLAHours      int         `json:"default_sla_hours" yaml:"default_sla_hours"`
	UrgentSLAHours       int         `json:"urgent_sla_hours" yaml:"urgent_sla_hours"`
	// FallbackApprover receives items whose escalation chain is exhausted.
	// Empty means exhausted items expire.
	FallbackApprover id.ActorID `json:"fallback_approver,omitempty" yaml:"fallback_approver"`
	// RenotifyBeforeEscalating re-notifies the current assignee on the first
	// deadline breach at each level instead of advancing immediately.
	RenotifyBeforeEscalating bool      `json:"renotify_before_escalating" yaml:"renotify_before_escalating"`
	UpdatedAt                time.Time `json:"updated_at" yaml:"-"`
}

// Defaults returns the settings used for a tenant with no stored configuration.
func Defaults(tenantID id.TenantID) *Settings {
	return &Settings{
		TenantID:             tenantID,
		AutoApproveThreshold: confidence.DefaultAutoApproveThreshold,
		QuickReviewThreshold: confidence.DefaultQuickReviewThreshold,
		DefaultSLAHours:      DefaultSLAHours,
		UrgentSLAHours:       DefaultUrgentSLAHours,
	}
}

// Validate checks the invariants.
func (s *Settings) Validate() error {
	if s.TenantID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "tenant_id is required")
	}
	if err := s.Thresholds().Validate(); err != nil {
		return err
	}
	if s.DefaultSLAHours <= 0 || s.UrgentSLAHours <= 0 {
		return dErrors.New(dErrors.CodeValidation, "sla hours must be positive")
	}
	return nil
}

// Thresholds returns the calculator thresholds.
func (s *Settings) Thresholds() confidence.Thresholds {
	return confidence.Thresholds{
		AutoApprove: s.AutoApproveThreshold,
		QuickReview: s.QuickReviewThreshold,
	}
}

// SLA returns the response window for an item.
func (s *Settings) SLA(urgent bool) time.Duration {
	if urgent {
		return time.Duration(s.UrgentSLAHours) * time.Hour
	}
	return time.Duration(s.DefaultSLAHours) * time.Hour
}

// HasFallback reports whether exhausted chains go to a fallback approver.
func (s *Settings) HasFallback() bool {
	return !s.FallbackApprover.IsZero()
}
