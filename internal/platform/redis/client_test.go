package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/platform/config"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "gatekeeper:ledger:audit:abc", Key("ledger", "audit", "abc"))
	assert.Equal(t, "gatekeeper:tenant_settings:t1", Key("tenant_settings", "t1"))
}

func TestNewWithoutURL(t *testing.T) {
	c, err := New(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestOptions(t *testing.T) {
	t.Run("overrides only positive values", func(t *testing.T) {
		opts, err := options(config.RedisConfig{
			URL:         "redis://localhost:6379/2",
			PoolSize:    7,
			ReadTimeout: 2 * time.Second,
		})
		require.NoError(t, err)
		assert.Equal(t, 2, opts.DB)
		assert.Equal(t, 7, opts.PoolSize)
		assert.Equal(t, 2*time.Second, opts.ReadTimeout)
		assert.Zero(t, opts.DialTimeout)
	})

	t.Run("rejects bad url", func(t *testing.T) {
		_, err := options(config.RedisConfig{URL: "http://nope"})
		assert.ErrorContains(t, err, "parse redis url")
	})
}
