package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"gatekeeper/internal/approval/models"
	"gatekeeper/internal/confidence"
	id "gatekeeper/pkg/domain"
	"gatekeeper/pkg/platform/sentinel"
)

type ApprovalStoreSuite struct {
	suite.Suite
	store  *InMemory
	ctx    context.Context
	tenant id.TenantID
	now    time.Time
}

func TestApprovalStoreSuite(t *testing.T) {
	suite.Run(t, new(ApprovalStoreSuite))
}

func (s *ApprovalStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.tenant = id.TenantID(uuid.New())
	s.now = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
}

func (s *ApprovalStoreSuite) newItem(tenant id.TenantID, proposal string, sla time.Duration) *models.Item {
	item, err := models.NewItem(models.NewItemParams{
		TenantID:   tenant,
		ProposalID: proposal,
		Kind:       models.KindDeal,
		Title:      "Discount for ACME",
		Priority:   models.PriorityNormal,
		Score:      confidence.Result{Score: 65, Recommendation: confidence.RecommendQuickReview},
		AssignedTo: "approver-a",
		Now:        s.now,
		SLA:        sla,
	})
	s.Require().NoError(err)
	return item
}

func (s *ApprovalStoreSuite) TestCreate() {
	s.Run("rejects duplicate idempotency key per tenant", func() {
		first := s.newItem(s.tenant, "p-1", time.Hour)
		s.Require().NoError(s.store.Create(s.ctx, first))

		dup := s.newItem(s.tenant, "p-1", time.Hour)
		s.ErrorIs(s.store.Create(s.ctx, dup), sentinel.ErrAlreadyUsed)

		found, err := s.store.GetByIdempotencyKey(s.ctx, s.tenant, first.IdempotencyKey)
		s.Require().NoError(err)
		s.Equal(first.ID, found.ID)
	})

	s.Run("same key in another tenant is independent", func() {
		other := s.newItem(id.TenantID(uuid.New()), "p-1", time.Hour)
		s.NoError(s.store.Create(s.ctx, other))
	})
}

func (s *ApprovalStoreSuite) TestTenantIsolation() {
	item := s.newItem(s.tenant, "p-2", time.Hour)
	s.Require().NoError(s.store.Create(s.ctx, item))

	otherTenant := id.TenantID(uuid.New())
	_, err := s.store.Get(s.ctx, otherTenant, item.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	forged := item.Clone()
	forged.TenantID = otherTenant
	s.ErrorIs(s.store.Update(s.ctx, forged, item.Version), sentinel.ErrNotFound)

	listed, err := s.store.List(s.ctx, otherTenant, models.ListFilter{})
	s.Require().NoError(err)
	s.Empty(listed)
}

func (s *ApprovalStoreSuite) TestUpdateIsCompareAndSwap() {
	item := s.newItem(s.tenant, "p-3", time.Hour)
	s.Require().NoError(s.store.Create(s.ctx, item))

	a, _ := s.store.Get(s.ctx, s.tenant, item.ID)
	b, _ := s.store.Get(s.ctx, s.tenant, item.ID)

	s.Require().NoError(a.Decide(models.OutcomeApprove, "approver-a", "", "", s.now))
	s.Require().NoError(s.store.Update(s.ctx, a, 1))
	s.Equal(int64(2), a.Version)

	s.Require().NoError(b.Decide(models.OutcomeReject, "approver-b", "", "nope", s.now))
	s.ErrorIs(s.store.Update(s.ctx, b, 1), sentinel.ErrConflict)

	stored, err := s.store.Get(s.ctx, s.tenant, item.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, stored.Status)
	s.Equal(id.ActorID("approver-a"), stored.DecidedBy)
}

func (s *ApprovalStoreSuite) TestConcurrentUpdatesHaveOneWinner() {
	item := s.newItem(s.tenant, "p-4", time.Hour)
	s.Require().NoError(s.store.Create(s.ctx, item))

	const goroutines = 50
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			current, err := s.store.Get(s.ctx, s.tenant, item.ID)
			if err != nil {
				return
			}
			if err := current.Decide(models.OutcomeApprove, "approver-a", "", "", s.now); err != nil {
				conflicts.Add(1)
				return
			}
			switch err := s.store.Update(s.ctx, current, current.Version); err {
			case nil:
				successes.Add(1)
			case sentinel.ErrConflict:
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successes.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())
}

func (s *ApprovalStoreSuite) TestListDue() {
	due := s.newItem(s.tenant, "due", time.Hour)
	later := s.newItem(s.tenant, "later", 10*time.Hour)
	decided := s.newItem(s.tenant, "decided", time.Hour)
	s.Require().NoError(decided.Decide(models.OutcomeApprove, "approver-a", "", "", s.now))
	for _, it := range []*models.Item{due, later, decided} {
		s.Require().NoError(s.store.Create(s.ctx, it))
	}

	items, err := s.store.ListDue(s.ctx, s.tenant, s.now.Add(2*time.Hour), 10)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal(due.ID, items[0].ID)
}

func (s *ApprovalStoreSuite) TestArchiveDecided() {
	open := s.newItem(s.tenant, "open", time.Hour)
	old := s.newItem(s.tenant, "old", time.Hour)
	s.Require().NoError(old.Decide(models.OutcomeApprove, "approver-a", "", "", s.now))
	s.Require().NoError(s.store.Create(s.ctx, open))
	s.Require().NoError(s.store.Create(s.ctx, old))

	n, err := s.store.ArchiveDecided(s.ctx, s.tenant, s.now.Add(time.Hour), s.now.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Equal(1, n)

	listed, err := s.store.List(s.ctx, s.tenant, models.ListFilter{})
	s.Require().NoError(err)
	s.Require().Len(listed, 1)
	s.Equal(open.ID, listed[0].ID)

	archived, err := s.store.Get(s.ctx, s.tenant, old.ID)
	s.Require().NoError(err)
	s.NotNil(archived.ArchivedAt)
}

func (s *ApprovalStoreSuite) TestActiveTenants() {
	other := id.TenantID(uuid.New())
	gone := id.TenantID(uuid.New())
	s.Require().NoError(s.store.Create(s.ctx, s.newItem(s.tenant, "a", time.Hour)))
	s.Require().NoError(s.store.Create(s.ctx, s.newItem(s.tenant, "b", time.Hour)))
	s.Require().NoError(s.store.Create(s.ctx, s.newItem(other, "a", time.Hour)))
	archived := s.newItem(gone, "a", time.Hour)
	s.Require().NoError(archived.Decide(models.OutcomeApprove, "approver-a", "", "", s.now))
	s.Require().NoError(s.store.Create(s.ctx, archived))
	_, err := s.store.ArchiveDecided(s.ctx, gone, s.now.Add(time.Hour), s.now.Add(time.Hour))
	s.Require().NoError(err)

	tenants, err := s.store.ActiveTenants(s.ctx)
	s.Require().NoError(err)
	s.ElementsMatch([]id.TenantID{s.tenant, other}, tenants)
}

func (s *ApprovalStoreSuite) TestListFilters() {
	a := s.newItem(s.tenant, "a", time.Hour)
	b := s.newItem(s.tenant, "b", time.Hour)
	s.Require().NoError(b.Decide(models.OutcomeReject, "approver-a", "", "dup", s.now))
	s.Require().NoError(s.store.Create(s.ctx, a))
	s.Require().NoError(s.store.Create(s.ctx, b))

	pending, err := s.store.List(s.ctx, s.tenant, models.ListFilter{Status: models.StatusPending})
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(a.ID, pending[0].ID)

	limited, err := s.store.List(s.ctx, s.tenant, models.ListFilter{Limit: 1})
	s.Require().NoError(err)
	s.Len(limited, 1)
}
