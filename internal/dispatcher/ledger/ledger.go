// Package ledger records which events a consumer group has already applied.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	platformredis "gatekeeper/internal/platform/redis"
	id "gatekeeper/pkg/domain"
	"gatekeeper/pkg/platform/sentinel"
)

// Ledger is keyed by scope (usually a consumer group) and event id.
type Ledger interface {
	Seen(ctx context.Context, scope string, eventID id.EventID) (bool, error)
	// Mark records the event and reports whether this call was the first.
	Mark(ctx context.Context, scope string, eventID id.EventID) (bool, error)
}

type key struct {
	scope string
	event id.EventID
}

// InMemory never expires entries.
type InMemory struct {
	mu   sync.Mutex
	seen map[key]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{seen: make(map[key]struct{})}
}

func (l *InMemory) Seen(_ context.Context, scope string, eventID id.EventID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[key{scope, eventID}]
	return ok, nil
}

func (l *InMemory) Mark(_ context.Context, scope string, eventID id.EventID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{scope, eventID}
	if _, ok := l.seen[k]; ok {
		return false, nil
	}
	l.seen[k] = struct{}{}
	return true, nil
}

// Redis keeps one key per entry with a TTL that outlives log retention, so a
// replay of any retained event still finds its entry.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func redisKey(scope string, eventID id.EventID) string {
	return platformredis.Key("ledger", scope, eventID.String())
}

func (l *Redis) Seen(ctx context.Context, scope string, eventID id.EventID) (bool, error) {
	n, err := l.client.Exists(ctx, redisKey(scope, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("ledger lookup: %w: %w", sentinel.ErrUnavailable, err)
	}
	return n == 1, nil
}

func (l *Redis) Mark(ctx context.Context, scope string, eventID id.EventID) (bool, error) {
	ok, err := l.client.SetNX(ctx, redisKey(scope, eventID), time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("ledger mark: %w: %w", sentinel.ErrUnavailable, err)
	}
	return ok, nil
}
