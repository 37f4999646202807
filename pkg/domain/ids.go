package domain

import (
	"database/sql/driver"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "gatekeeper/pkg/domain-errors"
)

// Typed identifiers keep tenant, approval and event ids from being swapped at
// compile time. All of them are UUIDs except ActorID, which is an opaque
// reference owned by the directory collaborator.
type (
	TenantID     uuid.UUID
	ApprovalID   uuid.UUID
	EventID      uuid.UUID
	DeadLetterID uuid.UUID
)

// ActorID references a human, an agent, or a role (e.g. "role:finance-lead").
type ActorID string

// SystemActor is recorded for decisions and transitions made by the engine itself.
const SystemActor ActorID = "system"

const maxActorIDLength = 256

func (id TenantID) String() string   { return uuid.UUID(id).String() }
func (id ApprovalID) String() string { return uuid.UUID(id).String() }
func (id EventID) String() string    { return uuid.UUID(id).String() }
func (id ActorID) String() string    { return string(id) }

func (id DeadLetterID) String() string { return uuid.UUID(id).String() }
func (id DeadLetterID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id DeadLetterID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id *DeadLetterID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id DeadLetterID) Value() (driver.Value, error)  { return uuid.UUID(id).Value() }
func (id *DeadLetterID) Scan(src any) error           { return (*uuid.UUID)(id).Scan(src) }

func (id TenantID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ApprovalID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ActorID) IsZero() bool   { return id == "" }

// IsSystem reports whether the actor is the engine itself.
func (id ActorID) IsSystem() bool { return id == SystemActor }

func (id TenantID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id ApprovalID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id EventID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }

func (id *TenantID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ApprovalID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *EventID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }

// Value and Scan let the ids travel as SQL uuid columns.
func (id TenantID) Value() (driver.Value, error)   { return uuid.UUID(id).Value() }
func (id ApprovalID) Value() (driver.Value, error) { return uuid.UUID(id).Value() }
func (id EventID) Value() (driver.Value, error)    { return uuid.UUID(id).Value() }

func (id *TenantID) Scan(src any) error   { return (*uuid.UUID)(id).Scan(src) }
func (id *ApprovalID) Scan(src any) error { return (*uuid.UUID)(id).Scan(src) }
func (id *EventID) Scan(src any) error    { return (*uuid.UUID)(id).Scan(src) }

func NewApprovalID() ApprovalID { return ApprovalID(uuid.New()) }
func NewEventID() EventID       { return EventID(uuid.New()) }

func NewDeadLetterID() DeadLetterID { return DeadLetterID(uuid.New()) }

func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID(s, "tenant_id")
	return TenantID(u), err
}

func ParseApprovalID(s string) (ApprovalID, error) {
	u, err := parseUUID(s, "approval_id")
	return ApprovalID(u), err
}

func ParseEventID(s string) (EventID, error) {
	u, err := parseUUID(s, "event_id")
	return EventID(u), err
}

func ParseDeadLetterID(s string) (DeadLetterID, error) {
	u, err := parseUUID(s, "dead_letter_id")
	return DeadLetterID(u), err
}

// ParseActorID validates an actor reference: non-empty, printable UTF-8, bounded.
func ParseActorID(s string) (ActorID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "actor_id is required")
	}
	if len(s) > maxActorIDLength || !utf8.ValidString(s) {
		return "", dErrors.New(dErrors.CodeValidation, "actor_id is invalid")
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return "", dErrors.New(dErrors.CodeValidation, "actor_id is invalid")
		}
	}
	return ActorID(s), nil
}

func parseUUID(s, field string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, field+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, field+" must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, field+" must not be nil")
	}
	return u, nil
}
