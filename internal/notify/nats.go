package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"gatekeeper/internal/platform/config"
)

const flushTimeout = 5 * time.Second

// NATSTransport publishes core NATS messages and flushes so a publish only
// succeeds once the server has the message.
type NATSTransport struct {
	conn *nats.Conn
}

func NewNATS(cfg config.NATSConfig, logger *slog.Logger) (*NATSTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name("gatekeeper-notify"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSTransport{conn: conn}, nil
}

func (t *NATSTransport) Publish(ctx context.Context, subject string, data []byte) error {
	if err := t.conn.Publish(subject, data); err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		return t.conn.FlushTimeout(flushTimeout)
	}
	return t.conn.FlushWithContext(ctx)
}

// Health reports whether the connection is up.
func (t *NATSTransport) Health(context.Context) error {
	if !t.conn.IsConnected() {
		return fmt.Errorf("nats: %s", t.conn.Status())
	}
	return nil
}

func (t *NATSTransport) Close() {
	_ = t.conn.Drain()
}
