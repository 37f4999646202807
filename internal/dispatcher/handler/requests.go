package handler

import (
	"strings"
	"time"

	"gatekeeper/internal/dispatcher/models"
	"gatekeeper/internal/events"
	id "gatekeeper/pkg/domain"
	dErrors "gatekeeper/pkg/domain-errors"
	pstrings "gatekeeper/pkg/platform/strings"
)

// ResolveRequest closes a dead letter.
type ResolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
	Note       string `json:"note"`

	actor id.ActorID
}

func (r *ResolveRequest) Validate() error {
	actor, err := id.ParseActorID(r.ResolvedBy)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "resolved_by is required")
	}
	r.actor = actor
	r.Note = strings.TrimSpace(r.Note)
	if len(r.Note) > 2000 {
		return dErrors.New(dErrors.CodeValidation, "note is too long")
	}
	return nil
}

// ReplayRequest replays the event log between two instants.
type ReplayRequest struct {
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
	Types []string  `json:"types"`
	Group string    `json:"group"`

	types []events.Type
}

func (r *ReplayRequest) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "from and to are required")
	}
	if !r.From.Before(r.To) {
		return dErrors.New(dErrors.CodeValidation, "from must be before to")
	}
	r.types = r.types[:0]
	for _, raw := range pstrings.DedupeAndTrim(r.Types) {
		t, err := events.ParseType(raw)
		if err != nil {
			return err
		}
		r.types = append(r.types, t)
	}
	r.Group = strings.TrimSpace(r.Group)
	return nil
}

type deadLetterList struct {
	DeadLetters []*models.DeadLetter `json:"dead_letters"`
}

type replayResponse struct {
	Replayed int `json:"replayed"`
}
