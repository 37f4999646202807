package models

import (
	"time"

	"gatekeeper/internal/events"
	id "gatekeeper/pkg/domain"
)

// MaxAttempts is the number of failed deliveries after which an event is
// dead-lettered.
const MaxAttempts = 4

// retryDelays[n] is the wait before attempt n+1 after n failures.
var retryDelays = []time.Duration{0, time.Minute, 5 * time.Minute, 30 * time.Minute}

// RetryDelay returns how long to wait after the given number of failed
// attempts. The second return is false once the event has to be dead-lettered.
func RetryDelay(failures int) (time.Duration, bool) {
	if failures < 1 || failures >= MaxAttempts {
		return 0, false
	}
	return retryDelays[failures], true
}

// Attempt is one failed delivery.
type Attempt struct {
	Number int       `json:"number"`
	At     time.Time `json:"at"`
	Error  string    `json:"error"`
}

// RetryEntry is an event parked for a consumer group. Entries with zero
// Attempts were never tried: they queue behind an earlier parked event of the
// same approval item.
type RetryEntry struct {
	Seq         int64
	Group       string
	Event       events.Event
	Attempts    int
	LastError   string
	History     []Attempt
	NextRetryAt time.Time
	EnqueuedAt  time.Time
}

func (r *RetryEntry) ItemID() id.ApprovalID { return r.Event.ApprovalItemID }

// RecordFailure appends the failed attempt.
func (r *RetryEntry) RecordFailure(at time.Time, err error) {
	r.Attempts++
	r.LastError = err.Error()
	r.History = append(r.History, Attempt{Number: r.Attempts, At: at, Error: r.LastError})
}

// DeadLetter is an event that exhausted its retries for a consumer group.
// Unresolved dead letters are never purged.
type DeadLetter struct {
	ID             id.DeadLetterID `json:"id"`
	Group          string          `json:"group"`
	Event          events.Event    `json:"event"`
	Attempts       int             `json:"deliveryAttempts"`
	LastError      string          `json:"lastError"`
	History        []Attempt       `json:"history"`
	DeadAt         time.Time       `json:"deadAt"`
	ReplayedAt     *time.Time      `json:"replayedAt,omitempty"`
	ReplayCount    int             `json:"replayCount"`
	ResolvedAt     *time.Time      `json:"resolvedAt,omitempty"`
	ResolvedBy     id.ActorID      `json:"resolvedBy,omitempty"`
	ResolutionNote string          `json:"resolutionNote,omitempty"`
}

// NewDeadLetter moves a retry entry to the dead-letter channel.
func NewDeadLetter(r *RetryEntry, at time.Time) *DeadLetter {
	return &DeadLetter{
		ID:        id.NewDeadLetterID(),
		Group:     r.Group,
		Event:     r.Event,
		Attempts:  r.Attempts,
		LastError: r.LastError,
		History:   r.History,
		DeadAt:    at,
	}
}

func (d *DeadLetter) IsResolved() bool { return d.ResolvedAt != nil }
