//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"gatekeeper/internal/approval/models"
	"gatekeeper/internal/approval/store"
	"gatekeeper/internal/confidence"
	id "gatekeeper/pkg/domain"
	"gatekeeper/pkg/platform/sentinel"
	"gatekeeper/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	tenant   id.TenantID
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "approval_items"))
	s.tenant = id.TenantID(uuid.New())
}

func (s *PostgresStoreSuite) newItem(proposal string, chain ...id.ActorID) *models.Item {
	item, err := models.NewItem(models.NewItemParams{
		TenantID:        s.tenant,
		ProposalID:      proposal,
		Kind:            models.KindContent,
		Title:           "Blog post",
		Payload:         []byte(`{"draft_id":"d-1"}`),
		Priority:        models.PriorityUrgent,
		Score:           confidence.Result{Score: 55, Recommendation: confidence.RecommendFullReview, Factors: []confidence.Factor{{Name: "quality", Score: 55, Weight: 1}}},
		AIReasoning:     "tone mismatch",
		AssignedTo:      "approver-a",
		EscalationChain: chain,
		Now:             time.Now().Add(-time.Hour),
		SLA:             4 * time.Hour,
	})
	s.Require().NoError(err)
	return item
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	item := s.newItem("p-1", "approver-b", "approver-c")
	s.Require().NoError(s.store.Create(ctx, item))

	s.Require().NoError(item.Escalate(item.NextEscalation(""), time.Now(), time.Hour))
	s.Require().NoError(s.store.Update(ctx, item, 1))

	found, err := s.store.Get(ctx, s.tenant, item.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusEscalated, found.Status)
	s.Equal([]id.ActorID{"approver-b", "approver-c"}, found.EscalationChain)
	s.Require().Len(found.EscalationHistory, 1)
	s.Equal(id.ActorID("approver-a"), found.EscalationHistory[0].From)
	s.Equal(int64(2), found.Version)
	s.Len(found.Factors, 1)
	s.JSONEq(`{"draft_id":"d-1"}`, string(found.Payload))
}

func (s *PostgresStoreSuite) TestDuplicateIdempotencyKey() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, s.newItem("p-dup")))
	err := s.store.Create(ctx, s.newItem("p-dup"))
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)
}

func (s *PostgresStoreSuite) TestConcurrentDecisionsSingleWinner() {
	ctx := context.Background()
	item := s.newItem("p-race")
	s.Require().NoError(s.store.Create(ctx, item))

	const goroutines = 20
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			current := item.Clone()
			_ = current.Decide(models.OutcomeApprove, "approver-a", "", "", time.Now())
			err := s.store.Update(ctx, current, 1)
			if err == nil {
				successes.Add(1)
			} else if errors.Is(err, sentinel.ErrConflict) {
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successes.Load(), "exactly one update should succeed")
	s.Equal(int32(goroutines-1), conflicts.Load())
}

func (s *PostgresStoreSuite) TestListDueAndTenantScope() {
	ctx := context.Background()
	item := s.newItem("p-due")
	s.Require().NoError(s.store.Create(ctx, item))

	due, err := s.store.ListDue(ctx, s.tenant, time.Now().Add(5*time.Hour), 10)
	s.Require().NoError(err)
	s.Require().Len(due, 1)

	other, err := s.store.ListDue(ctx, id.TenantID(uuid.New()), time.Now().Add(5*time.Hour), 10)
	s.Require().NoError(err)
	s.Empty(other)

	_, err = s.store.Get(ctx, id.TenantID(uuid.New()), item.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
