// Package events defines the facts published to the event log: the envelope,
// the closed set of approval event types and their typed payloads.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	id "gatekeeper/pkg/domain"
	dErrors "gatekeeper/pkg/domain-errors"
)

// Type is a dotted event name.
type Type string

const (
	TypeRequested    Type = "approval.requested"
	TypeAutoApproved Type = "approval.auto_approved"
	TypeGranted      Type = "approval.granted"
	TypeRejected     Type = "approval.rejected"
	TypeEscalated    Type = "approval.escalated"
	TypeExpired      Type = "approval.expired"
	TypeReminded     Type = "approval.reminded"
)

// SchemaVersion is stamped on every event produced by this build.
const SchemaVersion = 1

var knownTypes = map[Type]struct{}{
	TypeRequested:    {},
	TypeAutoApproved: {},
	TypeGranted:      {},
	TypeRejected:     {},
	TypeEscalated:    {},
	TypeExpired:      {},
	TypeReminded:     {},
}

func (t Type) String() string { return string(t) }

// IsValid reports whether t is one of the approval event types.
func (t Type) IsValid() bool {
	_, ok := knownTypes[t]
	return ok
}

// Suffix is the part after the domain prefix, e.g. "granted".
func (t Type) Suffix() string {
	if i := strings.LastIndex(string(t), "."); i >= 0 {
		return string(t)[i+1:]
	}
	return string(t)
}

// ParseType validates an event type name.
func ParseType(s string) (Type, error) {
	t := Type(strings.TrimSpace(s))
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown event type %q", s))
	}
	return t, nil
}

// Event is an immutable fact. Replay and ReplayGroup are delivery metadata:
// they travel with a re-published copy and are not part of the logical event.
type Event struct {
	ID             id.EventID      `json:"id"`
	Type           Type            `json:"type"`
	TenantID       id.TenantID     `json:"tenantId"`
	ApprovalItemID id.ApprovalID   `json:"approvalItemId"`
	CorrelationID  string          `json:"correlationId"`
	OccurredAt     time.Time       `json:"occurredAt"`
	ActorID        id.ActorID      `json:"actorId,omitempty"`
	SchemaVersion  int             `json:"schemaVersion"`
	Payload        json.RawMessage `json:"payload"`

	Replay      bool   `json:"-"`
	ReplayGroup string `json:"-"`
}

// New builds an event for an approval item. The correlation id is the item id
// so every event of one item's lifecycle shares it.
func New(t Type, tenantID id.TenantID, itemID id.ApprovalID, actor id.ActorID, at time.Time, payload Payload) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Event{
		ID:             id.NewEventID(),
		Type:           t,
		TenantID:       tenantID,
		ApprovalItemID: itemID,
		CorrelationID:  itemID.String(),
		OccurredAt:     at.UTC(),
		ActorID:        actor,
		SchemaVersion:  SchemaVersion,
		Payload:        raw,
	}, nil
}

// AsReplay returns a copy marked for redelivery. An empty group targets every
// subscribed group.
func (e Event) AsReplay(group string) Event {
	e.Replay = true
	e.ReplayGroup = group
	return e
}

// Actor returns the acting actor, or "system" for system-generated events.
func (e Event) Actor() id.ActorID {
	if e.ActorID.IsZero() {
		return id.SystemActor
	}
	return e.ActorID
}

// PartitionKey keys the log by approval item so one item's events stay ordered.
func (e Event) PartitionKey() []byte {
	return []byte(e.ApprovalItemID.String())
}

// Marshal encodes the logical event. Delivery metadata is carried separately.
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes and validates a logical event.
func Unmarshal(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.ID.IsNil() || !e.Type.IsValid() || e.TenantID.IsNil() {
		return Event{}, fmt.Errorf("decode event: missing id, type or tenant")
	}
	return e, nil
}
