// Package eventlog is the durable, partitioned, replayable event log. Events
// are keyed by approval item id, so one item's events share a partition and
// are consumed in append order. Each consumer group has its own committed
// cursor.
package eventlog

import (
	"context"
	"errors"
	"time"

	"gatekeeper/internal/events"
)

// ErrClosed is returned by operations on a closed log or consumer.
var ErrClosed = errors.New("eventlog: closed")

// Delivery metadata travels beside the event payload.
const (
	headerReplay      = "gatekeeper-replay"
	headerReplayGroup = "gatekeeper-replay-group"
)

// Record is one delivered log entry. Err is set when the stored bytes could
// not be decoded; such records still have to be committed.
type Record struct {
	Partition int32
	Offset    int64
	Timestamp time.Time
	Event     events.Event
	Err       error

	raw any
}

// Log appends events and hands out group consumers.
type Log interface {
	Append(ctx context.Context, evs ...events.Event) error
	Consumer(group string) (Consumer, error)
	// ReadRange calls fn for every record appended within [from, to).
	ReadRange(ctx context.Context, from, to time.Time, fn func(Record) error) error
	Close()
}

// Consumer reads for one consumer group. Poll blocks until records are
// available or ctx ends. Records are redelivered after a restart unless
// committed.
type Consumer interface {
	Poll(ctx context.Context) ([]Record, error)
	Commit(ctx context.Context, recs ...Record) error
	Close()
}
