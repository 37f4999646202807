package models

import (
	"fmt"
	"strings"

	id "gatekeeper/pkg/domain"
	dErrors "gatekeeper/pkg/domain-errors"
)

// Status is an approval item's lifecycle state.
type Status string

const (
	StatusPending      Status = "pending"
	StatusEscalated    Status = "escalated"
	StatusAutoApproved Status = "auto_approved"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
	StatusExpired      Status = "expired"
)

// transitions lists the legal moves. Terminal states have none.
var transitions = map[Status][]Status{
	StatusPending:   {StatusApproved, StatusRejected, StatusEscalated, StatusExpired},
	StatusEscalated: {StatusApproved, StatusRejected, StatusEscalated, StatusExpired},
}

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusEscalated, StatusAutoApproved, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s.IsValid() && len(transitions[s]) == 0
}

// IsOpen reports whether the item awaits a decision.
func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusEscalated
}

// CanTransitionTo reports whether s -> to is legal.
func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ParseStatus validates a status filter value.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.TrimSpace(v))
	if !s.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown status %q", v))
	}
	return s, nil
}

// Kind classifies the proposed action.
type Kind string

const (
	KindContent     Kind = "content"
	KindEmail       Kind = "email"
	KindCampaign    Kind = "campaign"
	KindDeal        Kind = "deal"
	KindIntegration Kind = "integration"
	KindAgentAction Kind = "agent_action"
)

func (k Kind) String() string { return string(k) }

// ParseKind validates a kind against the closed set.
func ParseKind(v string) (Kind, error) {
	k := Kind(strings.TrimSpace(v))
	switch k {
	case KindContent, KindEmail, KindCampaign, KindDeal, KindIntegration, KindAgentAction:
		return k, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown kind %q", v))
}

// Priority drives the response deadline.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsUrgent() bool { return p == PriorityUrgent }

// ParsePriority accepts normal or urgent; empty means normal.
func ParsePriority(v string) (Priority, error) {
	switch p := Priority(strings.TrimSpace(v)); p {
	case "":
		return PriorityNormal, nil
	case PriorityNormal, PriorityUrgent:
		return p, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown priority %q", v))
}

// Outcome is a human decision.
type Outcome string

const (
	OutcomeApprove Outcome = "approve"
	OutcomeReject  Outcome = "reject"
)

func ParseOutcome(v string) (Outcome, error) {
	switch o := Outcome(strings.TrimSpace(v)); o {
	case OutcomeApprove, OutcomeReject:
		return o, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("outcome must be approve or reject, got %q", v))
}

// Status returns the status an outcome moves an item to.
func (o Outcome) Status() Status {
	if o == OutcomeReject {
		return StatusRejected
	}
	return StatusApproved
}

// ListFilter narrows a tenant's item listing.
type ListFilter struct {
	Status          Status
	AssignedTo      id.ActorID
	IncludeArchived bool
	Limit           int
}
