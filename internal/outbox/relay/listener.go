package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
)

// NotifyChannel is raised by the outbox insert trigger.
const NotifyChannel = "gatekeeper_outbox"

// Listener turns Postgres NOTIFY messages into relay wakeups. It holds one
// dedicated connection and reconnects with backoff when it drops.
type Listener struct {
	dsn     string
	channel string
	logger  *slog.Logger
	out     chan struct{}
}

func NewListener(dsn string, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		dsn:     dsn,
		channel: NotifyChannel,
		logger:  logger,
		out:     make(chan struct{}, 1),
	}
}

// Wakeups coalesces notifications: a burst of inserts yields one pending signal.
func (l *Listener) Wakeups() <-chan struct{} {
	return l.out
}

func (l *Listener) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		err := l.listen(ctx, bo)
		if ctx.Err() != nil {
			return nil
		}
		wait := bo.NextBackOff()
		l.logger.WarnContext(ctx, "outbox listener disconnected", "error", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (l *Listener) listen(ctx context.Context, bo backoff.BackOff) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return err
	}
	bo.Reset()
	l.signal()

	for {
		if _, err := conn.WaitForNotification(ctx); err != nil {
			return err
		}
		l.signal()
	}
}

func (l *Listener) signal() {
	select {
	case l.out <- struct{}{}:
	default:
	}
}
