package handler

import (
	"encoding/json"
	"strings"
	"time"

	"gatekeeper/internal/approval/models"
	"gatekeeper/internal/confidence"
	id "gatekeeper/pkg/domain"
	dErrors "gatekeeper/pkg/domain-errors"
	pstrings "gatekeeper/pkg/platform/strings"
)

type factorRequest struct {
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	Weight      float64 `json:"weight"`
	Explanation string  `json:"explanation,omitempty"`
}

// RouteRequest is the body of POST /v1/approvals.
type RouteRequest struct {
	ProposalID      string          `json:"proposal_id"`
	Kind            string          `json:"kind"`
	Title           string          `json:"title"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Factors         []factorRequest `json:"factors"`
	Priority        string          `json:"priority,omitempty"`
	AIReasoning     string          `json:"ai_reasoning,omitempty"`
	EscalationChain []string        `json:"escalation_chain,omitempty"`
}

func (r *RouteRequest) Validate() error {
	r.ProposalID = strings.TrimSpace(r.ProposalID)
	r.Kind = strings.TrimSpace(r.Kind)
	r.Title = strings.TrimSpace(r.Title)
	if r.ProposalID == "" {
		return dErrors.New(dErrors.CodeValidation, "proposal_id is required")
	}
	if r.Kind == "" {
		return dErrors.New(dErrors.CodeValidation, "kind is required")
	}
	if r.Title == "" {
		return dErrors.New(dErrors.CodeValidation, "title is required")
	}
	if len(r.Factors) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one factor is required")
	}
	for _, a := range r.EscalationChain {
		if _, err := id.ParseActorID(a); err != nil {
			return err
		}
	}
	return nil
}

func (r *RouteRequest) factors() []confidence.Factor {
	out := make([]confidence.Factor, len(r.Factors))
	for i, f := range r.Factors {
		out[i] = confidence.Factor{Name: f.Name, Score: f.Score, Weight: f.Weight, Explanation: f.Explanation}
	}
	return out
}

// chain drops blank and repeated approvers; a repeated approver would only
// re-escalate to the same person.
func (r *RouteRequest) chain() []id.ActorID {
	names := pstrings.DedupeAndTrim(r.EscalationChain)
	if len(names) == 0 {
		return nil
	}
	out := make([]id.ActorID, len(names))
	for i, a := range names {
		out[i] = id.ActorID(a)
	}
	return out
}

// DecisionRequest is the body of POST /v1/approvals/{id}/decision.
type DecisionRequest struct {
	Outcome         string `json:"outcome"`
	Notes           string `json:"notes,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

func (r *DecisionRequest) Validate() error {
	o, err := models.ParseOutcome(r.Outcome)
	if err != nil {
		return err
	}
	r.Outcome = string(o)
	if o == models.OutcomeReject && strings.TrimSpace(r.RejectionReason) == "" {
		return dErrors.New(dErrors.CodeValidation, "rejection_reason is required when rejecting")
	}
	return nil
}

// BulkDecisionRequest is the body of POST /v1/approvals/decisions.
type BulkDecisionRequest struct {
	ApprovalIDs     []string `json:"approval_ids"`
	Outcome         string   `json:"outcome"`
	Notes           string   `json:"notes,omitempty"`
	RejectionReason string   `json:"rejection_reason,omitempty"`

	parsed []id.ApprovalID
}

func (r *BulkDecisionRequest) Validate() error {
	if len(r.ApprovalIDs) == 0 {
		return dErrors.New(dErrors.CodeValidation, "approval_ids must not be empty")
	}
	r.parsed = make([]id.ApprovalID, len(r.ApprovalIDs))
	for i, raw := range r.ApprovalIDs {
		approvalID, err := id.ParseApprovalID(raw)
		if err != nil {
			return err
		}
		r.parsed[i] = approvalID
	}
	d := DecisionRequest{Outcome: r.Outcome, RejectionReason: r.RejectionReason}
	if err := d.Validate(); err != nil {
		return err
	}
	r.Outcome = d.Outcome
	return nil
}

// ItemResponse is an approval item as returned by the API.
type ItemResponse struct {
	*models.Item
	EscalatedAt []time.Time `json:"escalated_at"`
}

func toResponse(item *models.Item) ItemResponse {
	return ItemResponse{Item: item, EscalatedAt: item.EscalatedAt()}
}

type listResponse struct {
	Items []ItemResponse `json:"items"`
}
