package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	id "gatekeeper/pkg/domain"
)

func TestAccessors(t *testing.T) {
	ctx := context.Background()

	t.Run("zero values when unset", func(t *testing.T) {
		assert.True(t, TenantID(ctx).IsNil())
		assert.Equal(t, id.ActorID(""), ActorID(ctx))
		assert.Equal(t, ChannelUnknown, CallerChannel(ctx))
		assert.Empty(t, RequestID(ctx))
	})

	t.Run("round trips injected values", func(t *testing.T) {
		tenant := id.TenantID(uuid.New())
		fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

		c := WithTenantID(ctx, tenant)
		c = WithActorID(c, "alice")
		c = WithTime(c, fixed)
		c = WithChannel(c, ChannelAgent)
		c = WithClientMetadata(c, "10.0.0.1", "curl/8.0")

		assert.Equal(t, tenant, TenantID(c))
		assert.Equal(t, id.ActorID("alice"), ActorID(c))
		assert.Equal(t, fixed, Now(c))
		assert.Equal(t, ChannelAgent, CallerChannel(c))
		assert.Equal(t, "10.0.0.1", ClientIP(c))
		assert.Equal(t, "curl/8.0", UserAgent(c))
	})
}
