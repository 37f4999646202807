package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	platformredis "gatekeeper/internal/platform/redis"
	"gatekeeper/internal/tenant/models"
	id "gatekeeper/pkg/domain"
)

// Backing is the authoritative store behind the cache.
type Backing interface {
	Get(ctx context.Context, tenantID id.TenantID) (*models.Settings, error)
	Put(ctx context.Context, settings *models.Settings) error
	ListTenants(ctx context.Context) ([]id.TenantID, error)
}

// CacheMetrics is satisfied by the tenant metrics package.
type CacheMetrics interface {
	IncrementCacheHit()
	IncrementCacheMiss()
}

const defaultCacheTTL = 5 * time.Minute

// RedisCached fronts a Backing store with a Redis read-through cache. Cache
// failures degrade to the backing store.
type RedisCached struct {
	backing Backing
	client  *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
	metrics CacheMetrics
}

func NewRedisCached(backing Backing, client *redis.Client, ttl time.Duration, logger *slog.Logger, metrics CacheMetrics) *RedisCached {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCached{backing: backing, client: client, ttl: ttl, logger: logger, metrics: metrics}
}

func settingsKey(tenantID id.TenantID) string {
	return platformredis.Key("tenant_settings", tenantID.String())
}

func (c *RedisCached) Get(ctx context.Context, tenantID id.TenantID) (*models.Settings, error) {
	raw, err := c.client.Get(ctx, settingsKey(tenantID)).Bytes()
	if err == nil {
		var s models.Settings
		if jsonErr := json.Unmarshal(raw, &s); jsonErr == nil {
			c.hit()
			return &s, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.WarnContext(ctx, "tenant settings cache read failed", "tenant_id", tenantID.String(), "error", err)
	}
	c.miss()

	s, err := c.backing.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if body, jsonErr := json.Marshal(s); jsonErr == nil {
		if setErr := c.client.Set(ctx, settingsKey(tenantID), body, c.ttl).Err(); setErr != nil {
			c.logger.WarnContext(ctx, "tenant settings cache write failed", "tenant_id", tenantID.String(), "error", setErr)
		}
	}
	return s, nil
}

func (c *RedisCached) Put(ctx context.Context, settings *models.Settings) error {
	if err := c.backing.Put(ctx, settings); err != nil {
		return err
	}
	if err := c.client.Del(ctx, settingsKey(settings.TenantID)).Err(); err != nil {
		c.logger.WarnContext(ctx, "tenant settings cache invalidation failed", "tenant_id", settings.TenantID.String(), "error", err)
	}
	return nil
}

func (c *RedisCached) ListTenants(ctx context.Context) ([]id.TenantID, error) {
	return c.backing.ListTenants(ctx)
}

func (c *RedisCached) hit() {
	if c.metrics != nil {
		c.metrics.IncrementCacheHit()
	}
}

func (c *RedisCached) miss() {
	if c.metrics != nil {
		c.metrics.IncrementCacheMiss()
	}
}
