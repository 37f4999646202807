// Package relay moves committed outbox entries into the event log.
//
// The relay is the only writer to the log for state changes. It drains entries
// in sequence order, so events of one approval item reach the log in the order
// their transactions committed. Delivery is at-least-once: a crash between the
// log append and MarkPublished republishes the batch, and consumers dedupe by
// event id.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"gatekeeper/internal/events"
	"gatekeeper/internal/outbox/metrics"
	"gatekeeper/internal/outbox/models"
	id "gatekeeper/pkg/domain"
	"gatekeeper/pkg/platform/circuit"
)

// ErrBreakerOpen is returned by DrainOnce while the event log is considered down.
var ErrBreakerOpen = errors.New("outbox relay: event log circuit open")

var tracer = otel.Tracer("gatekeeper/outbox")

// Store is the relay's view of the outbox.
type Store interface {
	FetchUnpublished(ctx context.Context, limit int) ([]*models.Entry, error)
	MarkPublished(ctx context.Context, ids []id.EventID, at time.Time) error
	Purge(ctx context.Context, publishedBefore time.Time) (int, error)
}

// Publisher appends events to the event log.
type Publisher interface {
	Append(ctx context.Context, evs ...events.Event) error
}

type Relay struct {
	store     Store
	log       Publisher
	breaker   *circuit.Breaker
	wakeups   <-chan struct{}
	logger    *slog.Logger
	metrics   *metrics.Metrics
	clock     func() time.Time
	interval  time.Duration
	batchSize int
	retention time.Duration
	purgeGap  time.Duration
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithWakeups lets an insert notification trigger a drain before the next poll.
func WithWakeups(ch <-chan struct{}) Option {
	return func(r *Relay) { r.wakeups = ch }
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithRetention sets how long published entries are kept before purging.
func WithRetention(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.retention = d
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(r *Relay) {
		if b != nil {
			r.breaker = b
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(r *Relay) {
		if clock != nil {
			r.clock = clock
		}
	}
}

func New(store Store, log Publisher, opts ...Option) *Relay {
	r := &Relay{
		store:     store,
		log:       log,
		breaker:   circuit.New("outbox-relay", circuit.WithFailureThreshold(3), circuit.WithCooldown(10*time.Second)),
		logger:    slog.Default(),
		clock:     time.Now,
		interval:  time.Second,
		batchSize: 100,
		retention: 7 * 24 * time.Hour,
		purgeGap:  time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drains the outbox until ctx is cancelled. Failures back off
// exponentially, capped at one minute.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	purge := time.NewTicker(r.purgeGap)
	defer purge.Stop()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.interval
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	r.logger.InfoContext(ctx, "outbox relay started", "batch_size", r.batchSize, "poll_interval", r.interval)
	for {
		wait := r.drain(ctx, bo)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}

		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "outbox relay stopped")
			return nil
		case <-ticker.C:
		case <-r.wakeups:
		case <-purge.C:
			r.purge(ctx)
		}
	}
}

// drain publishes full batches until the outbox is empty. It returns a
// positive delay when the caller should back off.
func (r *Relay) drain(ctx context.Context, bo *backoff.ExponentialBackOff) time.Duration {
	for ctx.Err() == nil {
		n, err := r.DrainOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return 0
			}
			wait := bo.NextBackOff()
			r.logger.WarnContext(ctx, "outbox relay batch failed", "error", err, "retry_in", wait)
			return wait
		}
		bo.Reset()
		if n < r.batchSize {
			return 0
		}
	}
	return 0
}

// DrainOnce publishes at most one batch and returns how many entries it handled.
func (r *Relay) DrainOnce(ctx context.Context) (int, error) {
	if !r.breaker.Allow() {
		return 0, ErrBreakerOpen
	}

	ctx, span := tracer.Start(ctx, "outbox.relay_batch")
	defer span.End()
	start := r.clock()

	entries, err := r.store.FetchUnpublished(ctx, r.batchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	span.SetAttributes(attribute.Int("outbox.batch_size", len(entries)))

	evs := make([]events.Event, 0, len(entries))
	ids := make([]id.EventID, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)
		e, err := entry.Event()
		if err != nil {
			// An undecodable entry can never be delivered; publishing the rest keeps the outbox moving.
			r.logger.ErrorContext(ctx, "dropping undecodable outbox entry",
				"event_id", entry.ID,
				"seq", entry.Seq,
				"error", err,
			)
			r.metrics.IncPublishErrors()
			continue
		}
		evs = append(evs, e)
	}

	if len(evs) > 0 {
		if err := r.log.Append(ctx, evs...); err != nil {
			r.recordFailure(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, "append failed")
			return 0, err
		}
	}
	r.recordSuccess(ctx)

	if err := r.store.MarkPublished(ctx, ids, r.clock().UTC()); err != nil {
		span.RecordError(err)
		return 0, err
	}
	r.metrics.AddPublished(len(evs))
	r.metrics.ObserveBatch(r.clock().Sub(start).Seconds(), len(entries))
	return len(entries), nil
}

func (r *Relay) recordFailure(ctx context.Context) {
	r.metrics.IncPublishErrors()
	if _, change := r.breaker.RecordFailure(); change.Opened {
		r.metrics.SetBreakerOpen(true)
		r.logger.ErrorContext(ctx, "outbox relay circuit opened", "breaker", r.breaker.Name())
	}
}

func (r *Relay) recordSuccess(ctx context.Context) {
	if _, change := r.breaker.RecordSuccess(); change.Closed {
		r.metrics.SetBreakerOpen(false)
		r.logger.InfoContext(ctx, "outbox relay circuit closed", "breaker", r.breaker.Name())
	}
}

func (r *Relay) purge(ctx context.Context) {
	n, err := r.store.Purge(ctx, r.clock().Add(-r.retention))
	if err != nil {
		r.logger.WarnContext(ctx, "outbox purge failed", "error", err)
		return
	}
	if n > 0 {
		r.metrics.AddPurged(n)
		r.logger.InfoContext(ctx, "outbox purged", "entries", n)
	}
}
