// Package dispatcher delivers events from the log to subscribers.
//
// Each consumer group has one worker reading its own cursor. A delivery that
// fails is parked in the group's retry store so the cursor can move on; later
// events of the same approval item queue behind it, which keeps per-item order
// without blocking other items. After four failed attempts the event moves to
// the group's dead-letter channel.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"gatekeeper/internal/dispatcher/ledger"
	"gatekeeper/internal/dispatcher/metrics"
	"gatekeeper/internal/dispatcher/models"
	"gatekeeper/internal/eventlog"
	"gatekeeper/internal/events"
	id "gatekeeper/pkg/domain"
	"gatekeeper/pkg/platform/sentinel"
)

var tracer = otel.Tracer("gatekeeper/dispatcher")

// Handler applies one event. Handlers must be idempotent: delivery is
// at-least-once.
type Handler interface {
	Handle(ctx context.Context, e events.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e events.Event) error

func (f HandlerFunc) Handle(ctx context.Context, e events.Event) error { return f(ctx, e) }

// RetryStore parks failed deliveries per group.
type RetryStore interface {
	Park(ctx context.Context, entry *models.RetryEntry) error
	HasPending(ctx context.Context, group string, itemID id.ApprovalID) (bool, error)
	DueHeads(ctx context.Context, group string, now time.Time, limit int) ([]*models.RetryEntry, error)
	Update(ctx context.Context, entry *models.RetryEntry) error
	Remove(ctx context.Context, group string, eventID id.EventID) error
	Count(ctx context.Context, group string) (int, error)
}

// DeadLetterStore holds events that exhausted their retries.
type DeadLetterStore interface {
	Add(ctx context.Context, dl *models.DeadLetter) error
	Get(ctx context.Context, letterID id.DeadLetterID) (*models.DeadLetter, error)
	List(ctx context.Context, group string, includeResolved bool) ([]*models.DeadLetter, error)
	MarkReplayed(ctx context.Context, letterID id.DeadLetterID, at time.Time) error
	Resolve(ctx context.Context, letterID id.DeadLetterID, actor id.ActorID, note string, at time.Time) error
}

const (
	defaultHandlerTimeout = 30 * time.Second
	defaultPumpInterval   = 10 * time.Second
	defaultPumpBatch      = 100
	maxInfraBackoff       = 30 * time.Second
)

type subscription struct {
	group   string
	pattern events.Pattern
	handler Handler
}

// accepts applies the pattern and replay targeting. A replay aimed at another
// group is not for this one.
func (s *subscription) accepts(e events.Event) bool {
	if e.Replay && e.ReplayGroup != "" && e.ReplayGroup != s.group {
		return false
	}
	return s.pattern.Matches(e.Type)
}

// targeted reports whether the delivery bypasses the ledger.
func (s *subscription) targeted(e events.Event) bool {
	return e.Replay && e.ReplayGroup == s.group
}

type Dispatcher struct {
	log     eventlog.Log
	retries RetryStore
	dead    DeadLetterStore
	ledger  ledger.Ledger
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time

	handlerTimeout time.Duration
	pumpInterval   time.Duration
	pumpBatch      int

	mu      sync.Mutex
	subs    []*subscription
	running bool
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithClock(clock func() time.Time) Option {
	return func(d *Dispatcher) { d.clock = clock }
}

// WithHandlerTimeout bounds each handler call.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.handlerTimeout = timeout
		}
	}
}

// WithPumpInterval sets how often parked events are checked for retry.
func WithPumpInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.pumpInterval = interval
		}
	}
}

func New(log eventlog.Log, retries RetryStore, dead DeadLetterStore, l ledger.Ledger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log:            log,
		retries:        retries,
		dead:           dead,
		ledger:         l,
		clock:          time.Now,
		handlerTimeout: defaultHandlerTimeout,
		pumpInterval:   defaultPumpInterval,
		pumpBatch:      defaultPumpBatch,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Subscribe registers a consumer group. Groups must be registered before Run.
func (d *Dispatcher) Subscribe(group, pattern string, handler Handler) error {
	p, err := events.ParsePattern(pattern)
	if err != nil {
		return err
	}
	if group == "" {
		return errors.New("dispatcher: consumer group is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("dispatcher: subscribe after start")
	}
	for _, s := range d.subs {
		if s.group == group {
			return fmt.Errorf("dispatcher: group %q already subscribed", group)
		}
	}
	d.subs = append(d.subs, &subscription{group: group, pattern: p, handler: handler})
	return nil
}

// Groups returns the subscribed consumer groups in registration order.
func (d *Dispatcher) Groups() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.subs))
	for i, s := range d.subs {
		out[i] = s.group
	}
	return out
}

func (d *Dispatcher) subscription(group string) *subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.subs {
		if s.group == group {
			return s
		}
	}
	return nil
}

// Run starts one worker per group plus the retry pump and blocks until ctx
// is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("dispatcher: already running")
	}
	d.running = true
	subs := append([]*subscription(nil), d.subs...)
	d.mu.Unlock()

	consumers := make([]eventlog.Consumer, 0, len(subs))
	for _, sub := range subs {
		consumer, err := d.log.Consumer(sub.group)
		if err != nil {
			for _, c := range consumers {
				c.Close()
			}
			return fmt.Errorf("open consumer for %s: %w", sub.group, err)
		}
		consumers = append(consumers, consumer)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, sub := range subs {
		consumer := consumers[i]
		g.Go(func() error {
			defer consumer.Close()
			return d.consume(ctx, sub, consumer)
		})
	}
	g.Go(func() error { return d.pump(ctx) })

	d.logger.InfoContext(ctx, "dispatcher started", "groups", len(subs))
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Dispatcher) consume(ctx context.Context, sub *subscription, consumer eventlog.Consumer) error {
	for {
		recs, err := consumer.Poll(ctx)
		switch {
		case errors.Is(err, eventlog.ErrClosed), ctx.Err() != nil:
			return nil
		case err != nil:
			d.logger.ErrorContext(ctx, "poll failed", "group", sub.group, "error", err)
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		for _, rec := range recs {
			if err := d.processDurably(ctx, sub, rec); err != nil {
				// Not committed: the records are redelivered on restart.
				return nil
			}
		}
		if err := consumer.Commit(ctx, recs...); err != nil {
			d.logger.WarnContext(ctx, "commit failed, records will be redelivered",
				"group", sub.group,
				"records", len(recs),
				"error", err,
			)
		}
	}
}

// processDurably keeps retrying infrastructure failures so a record is only
// committed once it was handled, parked or dead-lettered.
func (d *Dispatcher) processDurably(ctx context.Context, sub *subscription, rec eventlog.Record) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = maxInfraBackoff
	b.MaxElapsedTime = 0
	return backoff.RetryNotify(func() error {
		return d.process(ctx, sub, rec)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		d.logger.WarnContext(ctx, "delivery bookkeeping failed, retrying",
			"group", sub.group,
			"partition", rec.Partition,
			"offset", rec.Offset,
			"retry_in", wait,
			"error", err,
		)
	})
}

func (d *Dispatcher) process(ctx context.Context, sub *subscription, rec eventlog.Record) error {
	if rec.Err != nil {
		d.metrics.IncrementUndecodable(sub.group)
		d.logger.ErrorContext(ctx, "skipping undecodable record",
			"group", sub.group,
			"partition", rec.Partition,
			"offset", rec.Offset,
			"error", rec.Err,
		)
		return nil
	}
	e := rec.Event
	if !sub.accepts(e) {
		return nil
	}
	if !sub.targeted(e) {
		seen, err := d.ledger.Seen(ctx, sub.group, e.ID)
		if err != nil {
			return err
		}
		if seen {
			d.metrics.IncrementDuplicate(sub.group)
			return nil
		}
	}

	now := d.clock().UTC()
	pending, err := d.retries.HasPending(ctx, sub.group, e.ApprovalItemID)
	if err != nil {
		return err
	}
	if pending {
		entry := &models.RetryEntry{Group: sub.group, Event: e, NextRetryAt: now, EnqueuedAt: now}
		if err := d.park(ctx, entry); err != nil {
			return err
		}
		d.metrics.IncrementParked(sub.group, "ordering")
		d.logger.InfoContext(ctx, "event queued behind parked predecessor",
			"group", sub.group,
			"event_id", e.ID.String(),
			"approval_id", e.ApprovalItemID.String(),
		)
		return nil
	}

	herr := d.attempt(ctx, sub, e)
	if herr == nil {
		d.delivered(ctx, sub, e)
		return nil
	}

	entry := &models.RetryEntry{Group: sub.group, Event: e, EnqueuedAt: now}
	entry.RecordFailure(now, herr)
	delay, _ := models.RetryDelay(entry.Attempts)
	entry.NextRetryAt = now.Add(delay)
	if err := d.park(ctx, entry); err != nil {
		return err
	}
	d.metrics.IncrementParked(sub.group, "failed")
	d.logger.WarnContext(ctx, "delivery failed, parked for retry",
		"group", sub.group,
		"event_id", e.ID.String(),
		"event_type", e.Type.String(),
		"attempt", entry.Attempts,
		"next_retry_at", entry.NextRetryAt,
		"error", herr,
	)
	return nil
}

// park tolerates an entry that a previous run already parked before crashing.
func (d *Dispatcher) park(ctx context.Context, entry *models.RetryEntry) error {
	if err := d.retries.Park(ctx, entry); err != nil && !errors.Is(err, sentinel.ErrAlreadyUsed) {
		return err
	}
	return nil
}

func (d *Dispatcher) delivered(ctx context.Context, sub *subscription, e events.Event) {
	d.metrics.IncrementDelivered(sub.group, e.Type.String())
	if _, err := d.ledger.Mark(ctx, sub.group, e.ID); err != nil {
		d.logger.WarnContext(ctx, "ledger mark failed, event may be handled again",
			"group", sub.group,
			"event_id", e.ID.String(),
			"error", err,
		)
	}
}

// attempt calls the handler under the delivery timeout. Panics count as failures.
func (d *Dispatcher) attempt(ctx context.Context, sub *subscription, e events.Event) (err error) {
	ctx, span := tracer.Start(ctx, "dispatcher.deliver")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, d.handlerTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		d.metrics.ObserveHandler(sub.group, time.Since(start).Seconds())
		if err != nil {
			d.metrics.IncrementFailure(sub.group, e.Type.String())
			span.RecordError(err)
		}
	}()

	return sub.handler.Handle(ctx, e)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
