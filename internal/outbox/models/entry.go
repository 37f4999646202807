package models

import (
	"fmt"
	"time"

	"gatekeeper/internal/events"
	id "gatekeeper/pkg/domain"
)

// Entry is an event waiting in the outbox. Seq is assigned by the store and
// fixes publish order.
type Entry struct {
	Seq         int64
	ID          id.EventID
	TenantID    id.TenantID
	AggregateID id.ApprovalID
	EventType   events.Type
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// NewEntry captures an event for publishing.
func NewEntry(e events.Event) (*Entry, error) {
	payload, err := events.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode outbox entry: %w", err)
	}
	return &Entry{
		ID:          e.ID,
		TenantID:    e.TenantID,
		AggregateID: e.ApprovalItemID,
		EventType:   e.Type,
		Payload:     payload,
		CreatedAt:   e.OccurredAt,
	}, nil
}

// Event decodes the stored event.
func (e *Entry) Event() (events.Event, error) {
	return events.Unmarshal(e.Payload)
}

func (e *Entry) IsPublished() bool {
	return e.PublishedAt != nil
}
