package models

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"gatekeeper/internal/confidence"
	id "gatekeeper/pkg/domain"
	dErrors "gatekeeper/pkg/domain-errors"
)

// Conflict messages double as bulk failure reasons.
const (
	ReasonAlreadyDecided = "already decided"
	ReasonExpired        = "expired"
	ReasonConflict       = "conflict"
	ReasonNotFound       = "not found"
	ReasonNotPermitted   = "not permitted"
	ReasonDuplicate      = "duplicate id in batch"
)

const maxTitleLength = 512

// EscalationStep records one reassignment by the scheduler.
type EscalationStep struct {
	At       time.Time  `json:"at"`
	From     id.ActorID `json:"from,omitempty"`
	To       id.ActorID `json:"to"`
	Level    int        `json:"level"`
	Fallback bool       `json:"fallback,omitempty"`
}

// Item is the unit of human-in-the-loop review.
//
// Invariants:
//   - TenantID never changes after creation
//   - DecidedAt and DecidedBy are set together or not at all
//   - DueAt is after CreatedAt
//   - once Status is terminal, nothing but ArchivedAt changes
//   - Version increases by one on every persisted mutation
type Item struct {
	ID             id.ApprovalID   `json:"id"`
	TenantID       id.TenantID     `json:"tenant_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Kind           Kind            `json:"kind"`
	Title          string          `json:"title"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Priority       Priority        `json:"priority"`

	ConfidenceScore int                       `json:"confidence_score"`
	Factors         []confidence.Factor       `json:"factors"`
	AIReasoning     string                    `json:"ai_reasoning,omitempty"`
	Recommendation  confidence.Recommendation `json:"recommendation"`

	Status            Status           `json:"status"`
	AssignedTo        id.ActorID       `json:"assigned_to,omitempty"`
	EscalationChain   []id.ActorID     `json:"escalation_chain"`
	EscalationLevel   int              `json:"escalation_level"`
	EscalationHistory []EscalationStep `json:"escalation_history"`
	FallbackUsed      bool             `json:"fallback_used"`
	Reminded          bool             `json:"reminded"`

	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DueAt           time.Time  `json:"due_at"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	DecidedBy       id.ActorID `json:"decided_by,omitempty"`
	DecisionNotes   string     `json:"decision_notes,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	ArchivedAt      *time.Time `json:"archived_at,omitempty"`

	Version int64 `json:"version"`
}

// IdempotencyKey derives the per-tenant dedupe key of an upstream proposal
// from the proposal's own id. A proposal re-sent under another kind is still
// the same proposal.
func IdempotencyKey(proposalID string) string {
	return strings.TrimSpace(proposalID)
}

// NewItemParams are the routed facts of a new item.
type NewItemParams struct {
	TenantID        id.TenantID
	ProposalID      string
	Kind            Kind
	Title           string
	Payload         json.RawMessage
	Priority        Priority
	Score           confidence.Result
	AIReasoning     string
	AssignedTo      id.ActorID
	EscalationChain []id.ActorID
	Now             time.Time
	SLA             time.Duration
}

// NewItem builds an item in its initial state: auto_approved by the system for
// an auto recommendation, pending otherwise.
func NewItem(p NewItemParams) (*Item, error) {
	if p.TenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "tenant_id is required")
	}
	if strings.TrimSpace(p.ProposalID) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "proposal_id is required")
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "title is required")
	}
	if len(title) > maxTitleLength {
		return nil, dErrors.New(dErrors.CodeValidation, "title must be 512 characters or less")
	}
	if p.SLA <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "sla must be positive")
	}
	if !p.Score.Recommendation.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "recommendation is required")
	}

	now := p.Now.UTC()
	item := &Item{
		ID:              id.NewApprovalID(),
		TenantID:        p.TenantID,
		IdempotencyKey:  IdempotencyKey(p.ProposalID),
		Kind:            p.Kind,
		Title:           title,
		Payload:         p.Payload,
		Priority:        p.Priority,
		ConfidenceScore: p.Score.Score,
		Factors:         slices.Clone(p.Score.Factors),
		AIReasoning:     strings.TrimSpace(p.AIReasoning),
		Recommendation:  p.Score.Recommendation,
		EscalationChain: slices.Clone(p.EscalationChain),
		CreatedAt:       now,
		UpdatedAt:       now,
		DueAt:           now.Add(p.SLA),
		Version:         1,
	}

	if p.Score.Recommendation == confidence.RecommendAuto {
		item.Status = StatusAutoApproved
		decidedAt := now
		item.DecidedAt = &decidedAt
		item.DecidedBy = id.SystemActor
		return item, nil
	}

	if p.AssignedTo.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "an approver is required for items that need review")
	}
	item.Status = StatusPending
	item.AssignedTo = p.AssignedTo
	return item, nil
}

// Clone returns a deep copy so a failed write never leaks a half-applied mutation.
func (i *Item) Clone() *Item {
	c := *i
	c.Payload = slices.Clone(i.Payload)
	c.Factors = slices.Clone(i.Factors)
	c.EscalationChain = slices.Clone(i.EscalationChain)
	c.EscalationHistory = slices.Clone(i.EscalationHistory)
	if i.DecidedAt != nil {
		t := *i.DecidedAt
		c.DecidedAt = &t
	}
	if i.ArchivedAt != nil {
		t := *i.ArchivedAt
		c.ArchivedAt = &t
	}
	return &c
}

// EscalatedAt lists the times the item was escalated.
func (i *Item) EscalatedAt() []time.Time {
	out := make([]time.Time, len(i.EscalationHistory))
	for n, step := range i.EscalationHistory {
		out[n] = step.At
	}
	return out
}

// IsDue reports whether the item is open and past its deadline.
func (i *Item) IsDue(now time.Time) bool {
	return i.Status.IsOpen() && i.ArchivedAt == nil && !i.DueAt.After(now)
}

// terminalConflict describes why a terminal item cannot move.
func (i *Item) terminalConflict() error {
	if i.Status == StatusExpired {
		return dErrors.New(dErrors.CodeConflict, ReasonExpired)
	}
	return dErrors.New(dErrors.CodeConflict, ReasonAlreadyDecided)
}

func (i *Item) checkTransition(to Status) error {
	if i.Status.CanTransitionTo(to) {
		return nil
	}
	if i.Status.IsTerminal() {
		return i.terminalConflict()
	}
	return dErrors.New(dErrors.CodeConflict, "illegal transition from "+i.Status.String()+" to "+to.String())
}

// CanDecide validates a human decision without mutating the item.
func (i *Item) CanDecide(outcome Outcome, rejectionReason string) error {
	if outcome == OutcomeReject && strings.TrimSpace(rejectionReason) == "" {
		return dErrors.New(dErrors.CodeValidation, "rejection_reason is required when rejecting")
	}
	return i.checkTransition(outcome.Status())
}

// ApplyDecision records a human decision. Call CanDecide first.
func (i *Item) ApplyDecision(outcome Outcome, actor id.ActorID, notes, rejectionReason string, now time.Time) {
	now = now.UTC()
	i.Status = outcome.Status()
	i.DecidedAt = &now
	i.DecidedBy = actor
	i.DecisionNotes = strings.TrimSpace(notes)
	if outcome == OutcomeReject {
		i.RejectionReason = strings.TrimSpace(rejectionReason)
	}
	i.UpdatedAt = now
}

// Decide validates and applies a decision in one call.
func (i *Item) Decide(outcome Outcome, actor id.ActorID, notes, rejectionReason string, now time.Time) error {
	if err := i.CanDecide(outcome, rejectionReason); err != nil {
		return err
	}
	i.ApplyDecision(outcome, actor, notes, rejectionReason, now)
	return nil
}

// EscalationTarget is the scheduler's next move for a due item.
type EscalationTarget struct {
	To       id.ActorID
	Fallback bool
	// Expire is set when neither the chain nor a fallback has anyone left.
	Expire bool
}

// NextEscalation picks the next chain member, then the fallback approver once,
// then expiry.
func (i *Item) NextEscalation(fallback id.ActorID) EscalationTarget {
	if !i.FallbackUsed && i.EscalationLevel < len(i.EscalationChain) {
		return EscalationTarget{To: i.EscalationChain[i.EscalationLevel]}
	}
	if !i.FallbackUsed && !fallback.IsZero() {
		return EscalationTarget{To: fallback, Fallback: true}
	}
	return EscalationTarget{Expire: true}
}

// Escalate reassigns the item and restarts its deadline.
func (i *Item) Escalate(target EscalationTarget, now time.Time, sla time.Duration) error {
	if err := i.checkTransition(StatusEscalated); err != nil {
		return err
	}
	if target.Expire || target.To.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "escalation target is required")
	}
	now = now.UTC()
	i.EscalationLevel++
	i.EscalationHistory = append(i.EscalationHistory, EscalationStep{
		At:       now,
		From:     i.AssignedTo,
		To:       target.To,
		Level:    i.EscalationLevel,
		Fallback: target.Fallback,
	})
	if target.Fallback {
		i.FallbackUsed = true
	}
	i.AssignedTo = target.To
	i.Status = StatusEscalated
	i.DueAt = now.Add(sla)
	i.Reminded = false
	i.UpdatedAt = now
	return nil
}

// Expire closes an item nobody is left to decide.
func (i *Item) Expire(now time.Time) error {
	if err := i.checkTransition(StatusExpired); err != nil {
		return err
	}
	i.Status = StatusExpired
	i.UpdatedAt = now.UTC()
	return nil
}

// Remind extends the deadline once per level without changing the assignee.
func (i *Item) Remind(now time.Time, sla time.Duration) error {
	if !i.Status.IsOpen() {
		return i.checkTransition(StatusEscalated)
	}
	if i.Reminded {
		return dErrors.New(dErrors.CodeConflict, "assignee already reminded at this level")
	}
	now = now.UTC()
	i.Reminded = true
	i.DueAt = now.Add(sla)
	i.UpdatedAt = now
	return nil
}

// Archive hides a terminal item from listings. It is never deleted.
func (i *Item) Archive(now time.Time) error {
	if !i.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeConflict, "only decided items can be archived")
	}
	if i.ArchivedAt != nil {
		return nil
	}
	t := now.UTC()
	i.ArchivedAt = &t
	return nil
}
