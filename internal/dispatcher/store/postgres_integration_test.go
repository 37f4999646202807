//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"gatekeeper/internal/dispatcher/models"
	"gatekeeper/internal/dispatcher/store"
	"gatekeeper/internal/events"
	id "gatekeeper/pkg/domain"
	"gatekeeper/pkg/platform/sentinel"
	"gatekeeper/pkg/testutil/containers"
)

type DispatchPostgresSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	retries  *store.PostgresRetries
	dead     *store.PostgresDeadLetters
	now      time.Time
}

func TestDispatchPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(DispatchPostgresSuite))
}

func (s *DispatchPostgresSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.retries = store.NewPostgresRetries(s.postgres.DB)
	s.dead = store.NewPostgresDeadLetters(s.postgres.DB)
}

func (s *DispatchPostgresSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "dispatch_retries", "dead_letters"))
	s.now = time.Now().UTC().Truncate(time.Millisecond)
}

func (s *DispatchPostgresSuite) entry(item id.ApprovalID, next time.Time) *models.RetryEntry {
	e, err := events.New(events.TypeRequested, id.TenantID(uuid.New()), item, "", s.now, events.Requested{Kind: "deal", Title: "t"})
	s.Require().NoError(err)
	return &models.RetryEntry{Group: "audit", Event: e, NextRetryAt: next, EnqueuedAt: s.now, LastError: ""}
}

func (s *DispatchPostgresSuite) TestRetryHeadsAndReplayMarker() {
	ctx := context.Background()
	item := id.NewApprovalID()
	head := s.entry(item, s.now.Add(-time.Second))
	head.Event = head.Event.AsReplay("audit")
	head.RecordFailure(s.now, context.DeadlineExceeded)
	behind := s.entry(item, s.now.Add(-time.Minute))

	s.Require().NoError(s.retries.Park(ctx, head))
	s.Require().NoError(s.retries.Park(ctx, behind))
	s.ErrorIs(s.retries.Park(ctx, behind), sentinel.ErrAlreadyUsed)

	due, err := s.retries.DueHeads(ctx, "audit", s.now, 10)
	s.Require().NoError(err)
	s.Require().Len(due, 1)
	s.Equal(head.Event.ID, due[0].Event.ID)
	s.True(due[0].Event.Replay)
	s.Equal("audit", due[0].Event.ReplayGroup)
	s.Len(due[0].History, 1)

	s.Require().NoError(s.retries.Remove(ctx, "audit", head.Event.ID))
	due, err = s.retries.DueHeads(ctx, "audit", s.now, 10)
	s.Require().NoError(err)
	s.Require().Len(due, 1)
	s.False(due[0].Event.Replay)

	n, err := s.retries.Count(ctx, "audit")
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *DispatchPostgresSuite) TestDeadLetterLifecycle() {
	ctx := context.Background()
	entry := s.entry(id.NewApprovalID(), s.now)
	for i := 0; i < models.MaxAttempts; i++ {
		entry.RecordFailure(s.now, context.DeadlineExceeded)
	}
	dl := models.NewDeadLetter(entry, s.now)
	s.Require().NoError(s.dead.Add(ctx, dl))

	open, err := s.dead.List(ctx, "audit", false)
	s.Require().NoError(err)
	s.Require().Len(open, 1)
	s.Equal(models.MaxAttempts, open[0].Attempts)
	s.Len(open[0].History, models.MaxAttempts)

	s.Require().NoError(s.dead.MarkReplayed(ctx, dl.ID, s.now))
	s.Require().NoError(s.dead.Resolve(ctx, dl.ID, "ops", "fixed", s.now))
	s.ErrorIs(s.dead.Resolve(ctx, dl.ID, "ops", "fixed", s.now), sentinel.ErrConflict)
	s.ErrorIs(s.dead.Resolve(ctx, id.NewDeadLetterID(), "ops", "", s.now), sentinel.ErrNotFound)

	again := models.NewDeadLetter(entry, s.now.Add(time.Hour))
	s.Require().NoError(s.dead.Add(ctx, again))
	s.Equal(dl.ID, again.ID)
	s.Equal(1, again.ReplayCount)

	got, err := s.dead.Get(ctx, dl.ID)
	s.Require().NoError(err)
	s.False(got.IsResolved())
}
