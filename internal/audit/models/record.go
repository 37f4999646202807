package models

import (
	"fmt"
	"time"

	"gatekeeper/internal/events"
	id "gatekeeper/pkg/domain"
)

// Record is the durable, append-only trace of one event. EventID is the
// idempotency key: recording the same event twice yields one record.
type Record struct {
	EventID        id.EventID     `json:"event_id"`
	TenantID       id.TenantID    `json:"tenant_id"`
	ApprovalItemID id.ApprovalID  `json:"approval_item_id"`
	EventType      events.Type    `json:"event_type"`
	FromStatus     string         `json:"from_status,omitempty"`
	ToStatus       string         `json:"to_status"`
	ActorID        id.ActorID     `json:"actor_id"`
	Reason         string         `json:"reason,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
	SnapshotBefore map[string]any `json:"snapshot_before,omitempty"`
	SnapshotAfter  map[string]any `json:"snapshot_after,omitempty"`
	RecordedAt     time.Time      `json:"recorded_at"`
}

// FromEvent derives the audit record of an approval event.
func FromEvent(e events.Event, recordedAt time.Time) (*Record, error) {
	payload, err := events.DecodePayload(e)
	if err != nil {
		return nil, fmt.Errorf("audit %s: %w", e.ID, err)
	}
	from, to := payload.Transition()
	before, after := payload.Snapshots()
	return &Record{
		EventID:        e.ID,
		TenantID:       e.TenantID,
		ApprovalItemID: e.ApprovalItemID,
		EventType:      e.Type,
		FromStatus:     from,
		ToStatus:       to,
		ActorID:        e.Actor(),
		Reason:         reason(payload),
		OccurredAt:     e.OccurredAt,
		SnapshotBefore: before,
		SnapshotAfter:  after,
		RecordedAt:     recordedAt.UTC(),
	}, nil
}

func reason(p events.Payload) string {
	switch v := p.(type) {
	case events.Decided:
		if v.RejectionReason != "" {
			return v.RejectionReason
		}
		return v.Notes
	case events.Escalated:
		if v.Fallback {
			return "deadline passed, chain exhausted, assigned to fallback approver"
		}
		return "deadline passed"
	case events.Expired:
		return v.Reason
	case events.Reminded:
		return "deadline passed, assignee re-notified"
	case events.AutoApproved:
		return "confidence above auto-approve threshold"
	}
	return ""
}
