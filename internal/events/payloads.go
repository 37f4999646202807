package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is implemented by every typed event payload.
type Payload interface {
	// Transition reports the status change the event records.
	Transition() (from, to string)
	// Snapshots returns the minimal before/after diff of the fields the event changed.
	Snapshots() (before, after map[string]any)
}

// Requested is the payload of approval.requested.
type Requested struct {
	Kind            string    `json:"kind"`
	Title           string    `json:"title"`
	Priority        string    `json:"priority"`
	ConfidenceScore int       `json:"confidenceScore"`
	Recommendation  string    `json:"recommendation"`
	AssignedTo      string    `json:"assignedTo"`
	DueAt           time.Time `json:"dueAt"`
}

func (p Requested) Transition() (string, string) { return "", "pending" }

func (p Requested) Snapshots() (map[string]any, map[string]any) {
	return nil, map[string]any{
		"status":          "pending",
		"assignedTo":      p.AssignedTo,
		"confidenceScore": p.ConfidenceScore,
		"recommendation":  p.Recommendation,
		"dueAt":           p.DueAt,
	}
}

// AutoApproved is the payload of approval.auto_approved.
type AutoApproved struct {
	Kind            string    `json:"kind"`
	Title           string    `json:"title"`
	ConfidenceScore int       `json:"confidenceScore"`
	Recommendation  string    `json:"recommendation"`
	DecidedAt       time.Time `json:"decidedAt"`
	DecidedBy       string    `json:"decidedBy"`
}

func (p AutoApproved) Transition() (string, string) { return "", "auto_approved" }

func (p AutoApproved) Snapshots() (map[string]any, map[string]any) {
	return nil, map[string]any{
		"status":          "auto_approved",
		"confidenceScore": p.ConfidenceScore,
		"decidedBy":       p.DecidedBy,
		"decidedAt":       p.DecidedAt,
	}
}

// Decided is the payload of approval.granted and approval.rejected.
type Decided struct {
	Title           string    `json:"title"`
	FromStatus      string    `json:"fromStatus"`
	ToStatus        string    `json:"toStatus"`
	AssignedTo      string    `json:"assignedTo,omitempty"`
	DecidedBy       string    `json:"decidedBy"`
	DecidedAt       time.Time `json:"decidedAt"`
	Notes           string    `json:"notes,omitempty"`
	RejectionReason string    `json:"rejectionReason,omitempty"`
	Channel         string    `json:"channel,omitempty"`
}

func (p Decided) Transition() (string, string) { return p.FromStatus, p.ToStatus }

func (p Decided) Snapshots() (map[string]any, map[string]any) {
	after := map[string]any{
		"status":    p.ToStatus,
		"decidedBy": p.DecidedBy,
		"decidedAt": p.DecidedAt,
	}
	if p.RejectionReason != "" {
		after["rejectionReason"] = p.RejectionReason
	}
	if p.Notes != "" {
		after["decisionNotes"] = p.Notes
	}
	return map[string]any{"status": p.FromStatus}, after
}

// Escalated is the payload of approval.escalated.
type Escalated struct {
	Title            string    `json:"title"`
	FromStatus       string    `json:"fromStatus"`
	AssignedTo       string    `json:"assignedTo"`
	PreviousAssignee string    `json:"previousAssignee,omitempty"`
	EscalationCount  int       `json:"escalationCount"`
	DueAt            time.Time `json:"dueAt"`
	PreviousDueAt    time.Time `json:"previousDueAt"`
	Fallback         bool      `json:"fallback,omitempty"`
}

func (p Escalated) Transition() (string, string) { return p.FromStatus, "escalated" }

func (p Escalated) Snapshots() (map[string]any, map[string]any) {
	return map[string]any{
			"status":          p.FromStatus,
			"assignedTo":      p.PreviousAssignee,
			"escalationCount": p.EscalationCount - 1,
			"dueAt":           p.PreviousDueAt,
		}, map[string]any{
			"status":          "escalated",
			"assignedTo":      p.AssignedTo,
			"escalationCount": p.EscalationCount,
			"dueAt":           p.DueAt,
		}
}

// Expired is the payload of approval.expired.
type Expired struct {
	Title           string `json:"title"`
	FromStatus      string `json:"fromStatus"`
	AssignedTo      string `json:"assignedTo,omitempty"`
	EscalationCount int    `json:"escalationCount"`
	Reason          string `json:"reason"`
}

func (p Expired) Transition() (string, string) { return p.FromStatus, "expired" }

func (p Expired) Snapshots() (map[string]any, map[string]any) {
	return map[string]any{"status": p.FromStatus}, map[string]any{"status": "expired"}
}

// Reminded is the payload of approval.reminded. The status does not change.
type Reminded struct {
	Title           string    `json:"title"`
	Status          string    `json:"status"`
	AssignedTo      string    `json:"assignedTo"`
	EscalationCount int       `json:"escalationCount"`
	DueAt           time.Time `json:"dueAt"`
	PreviousDueAt   time.Time `json:"previousDueAt"`
}

func (p Reminded) Transition() (string, string) { return p.Status, p.Status }

func (p Reminded) Snapshots() (map[string]any, map[string]any) {
	return map[string]any{"dueAt": p.PreviousDueAt}, map[string]any{"dueAt": p.DueAt, "reminded": true}
}

// DecodePayload decodes the typed payload of e.
func DecodePayload(e Event) (Payload, error) {
	switch e.Type {
	case TypeRequested:
		return decode[Requested](e)
	case TypeAutoApproved:
		return decode[AutoApproved](e)
	case TypeGranted, TypeRejected:
		return decode[Decided](e)
	case TypeEscalated:
		return decode[Escalated](e)
	case TypeExpired:
		return decode[Expired](e)
	case TypeReminded:
		return decode[Reminded](e)
	}
	return nil, fmt.Errorf("no payload type for %q", e.Type)
}

func decode[T Payload](e Event) (Payload, error) {
	var v T
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return v, nil
}

// Title returns the human-readable title carried by the payload, if any.
func Title(p Payload) string {
	switch v := p.(type) {
	case Requested:
		return v.Title
	case AutoApproved:
		return v.Title
	case Decided:
		return v.Title
	case Escalated:
		return v.Title
	case Expired:
		return v.Title
	case Reminded:
		return v.Title
	}
	return ""
}

// Recipient returns who should hear about the event: the current assignee for
// work-queue events, the decider for outcomes.
func Recipient(p Payload) string {
	switch v := p.(type) {
	case Requested:
		return v.AssignedTo
	case Decided:
		if v.AssignedTo != "" {
			return v.AssignedTo
		}
		return v.DecidedBy
	case Escalated:
		return v.AssignedTo
	case Expired:
		return v.AssignedTo
	case Reminded:
		return v.AssignedTo
	}
	return ""
}
