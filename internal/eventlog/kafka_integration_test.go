//go:build integration

package eventlog_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/eventlog"
	"gatekeeper/internal/events"
	"gatekeeper/internal/platform/config"
	id "gatekeeper/pkg/domain"
	"gatekeeper/pkg/testutil/containers"
)

func newKafka(t *testing.T) *eventlog.Kafka {
	t.Helper()
	rp := containers.GetManager().GetRedpanda(t)
	cfg := config.KafkaConfig{
		Brokers:           rp.Brokers,
		Topic:             "approval-events-" + uuid.NewString()[:8],
		Partitions:        3,
		ReplicationFactor: 1,
		Retention:         config.EventRetention,
		ClientID:          "gatekeeper-test",
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	k, err := eventlog.NewKafka(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(k.Close)
	return k
}

func TestKafkaAppendConsumeCommit(t *testing.T) {
	k := newKafka(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	tenant := id.TenantID(uuid.New())
	item := id.NewApprovalID()
	var want []id.EventID
	for _, status := range []string{"pending", "escalated"} {
		e, err := events.New(events.TypeReminded, tenant, item, "", time.Now(), events.Reminded{Title: "t", Status: status})
		require.NoError(t, err)
		want = append(want, e.ID)
		require.NoError(t, k.Append(ctx, e))
	}
	replayed, err := events.New(events.TypeReminded, tenant, item, "", time.Now(), events.Reminded{Title: "t", Status: "escalated"})
	require.NoError(t, err)
	require.NoError(t, k.Append(ctx, replayed.AsReplay("audit")))

	c, err := k.Consumer("audit-test")
	require.NoError(t, err)
	var got []eventlog.Record
	for len(got) < 3 {
		recs, err := c.Poll(ctx)
		require.NoError(t, err)
		got = append(got, recs...)
	}
	require.Equal(t, want, []id.EventID{got[0].Event.ID, got[1].Event.ID})
	require.True(t, got[2].Event.Replay)
	require.Equal(t, "audit", got[2].Event.ReplayGroup)
	require.NoError(t, c.Commit(ctx, got...))
	c.Close()

	var ranged int
	err = k.ReadRange(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Minute), func(r eventlog.Record) error {
		require.NoError(t, r.Err)
		ranged++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, ranged)
}

func TestKafkaGroupResumesAfterCommit(t *testing.T) {
	k := newKafka(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	tenant := id.TenantID(uuid.New())
	appendOne := func(status string) id.EventID {
		e, err := events.New(events.TypeReminded, tenant, id.NewApprovalID(), "", time.Now(), events.Reminded{Title: "t", Status: status})
		require.NoError(t, err)
		require.NoError(t, k.Append(ctx, e))
		return e.ID
	}
	appendOne("pending")

	first, err := k.Consumer("resume-test")
	require.NoError(t, err)
	recs, err := first.Poll(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Commit(ctx, recs...))
	first.Close()

	next := appendOne("escalated")
	second, err := k.Consumer("resume-test")
	require.NoError(t, err)
	defer second.Close()
	recs, err = second.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, next, recs[0].Event.ID)
	require.NoError(t, second.Commit(ctx, recs...))
}
