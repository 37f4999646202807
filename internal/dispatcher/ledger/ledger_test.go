package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "gatekeeper/pkg/domain"
)

func TestInMemoryLedgerIsScoped(t *testing.T) {
	ctx := context.Background()
	l := NewInMemory()
	evt := id.NewEventID()

	first, err := l.Mark(ctx, "audit", evt)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := l.Mark(ctx, "audit", evt)
	require.NoError(t, err)
	assert.False(t, again)

	seen, err := l.Seen(ctx, "audit", evt)
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = l.Seen(ctx, "notifications", evt)
	require.NoError(t, err)
	assert.False(t, seen)
}
