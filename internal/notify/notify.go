// Package notify turns approval events into notification requests for the
// delivery service. It runs as the "notifications" consumer group and never
// sends anything itself.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"gatekeeper/internal/dispatcher/ledger"
	"gatekeeper/internal/events"
	id "gatekeeper/pkg/domain"
)

const (
	Group   = "notifications"
	Pattern = "approval.*"

	// sentScope keys the sent-markers in the ledger.
	sentScope = "notifications-sent"
)

// Request is what the delivery service receives.
type Request struct {
	Recipient      string        `json:"recipient"`
	TenantID       id.TenantID   `json:"tenantId"`
	ApprovalItemID id.ApprovalID `json:"approvalItemId"`
	EventID        id.EventID    `json:"eventId"`
	EventType      events.Type   `json:"eventType"`
	Title          string        `json:"title"`
}

// Transport publishes an encoded request on a subject.
type Transport interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

type Trigger struct {
	transport Transport
	sent      ledger.Ledger
	prefix    string
	logger    *slog.Logger
}

func New(transport Transport, sent ledger.Ledger, subjectPrefix string, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	if subjectPrefix == "" {
		subjectPrefix = "notifications.approval"
	}
	return &Trigger{transport: transport, sent: sent, prefix: subjectPrefix, logger: logger}
}

// Subject returns the subject for an event type, e.g.
// notifications.approval.escalated.
func (t *Trigger) Subject(typ events.Type) string {
	return t.prefix + "." + typ.Suffix()
}

// Handle publishes one request per event. Auto-approved items need no human
// and events without a recipient are dropped. A request that was already sent
// is not sent again, which covers operator replays.
func (t *Trigger) Handle(ctx context.Context, e events.Event) error {
	if e.Type == events.TypeAutoApproved {
		return nil
	}
	payload, err := events.DecodePayload(e)
	if err != nil {
		return err
	}
	req := Request{
		Recipient:      events.Recipient(payload),
		TenantID:       e.TenantID,
		ApprovalItemID: e.ApprovalItemID,
		EventID:        e.ID,
		EventType:      e.Type,
		Title:          events.Title(payload),
	}
	if req.Recipient == "" {
		t.logger.DebugContext(ctx, "no recipient for event", "event_id", e.ID.String(), "event_type", e.Type.String())
		return nil
	}

	sent, err := t.sent.Seen(ctx, sentScope, e.ID)
	if err != nil {
		return err
	}
	if sent {
		t.logger.InfoContext(ctx, "notification already sent, skipping",
			"event_id", e.ID.String(),
			"replay", e.Replay,
		)
		return nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode notification request: %w", err)
	}
	if err := t.transport.Publish(ctx, t.Subject(e.Type), body); err != nil {
		return fmt.Errorf("publish notification request: %w", err)
	}
	if _, err := t.sent.Mark(ctx, sentScope, e.ID); err != nil {
		t.logger.WarnContext(ctx, "sent-marker write failed", "event_id", e.ID.String(), "error", err)
	}
	return nil
}

// LogTransport logs requests instead of publishing them. It is used when no
// NATS server is configured.
type LogTransport struct {
	Logger *slog.Logger
}

func (l LogTransport) Publish(ctx context.Context, subject string, data []byte) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification request", "subject", subject, "body", string(data))
	return nil
}
