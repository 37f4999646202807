package escalation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"gatekeeper/internal/approval/models"
	approvalstore "gatekeeper/internal/approval/store"
	"gatekeeper/internal/confidence"
	"gatekeeper/internal/events"
	outboxstore "gatekeeper/internal/outbox/store"
	tenantmodels "gatekeeper/internal/tenant/models"
	tenantservice "gatekeeper/internal/tenant/service"
	tenantstore "gatekeeper/internal/tenant/store"
	id "gatekeeper/pkg/domain"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/platform/sentinel"
	txcontext "gatekeeper/pkg/platform/tx"
)

// barrierStore holds every ListDue caller until n callers have listed, so
// concurrent sweeps read the same versions.
type barrierStore struct {
	*approvalstore.InMemory
	listed sync.WaitGroup
}

func (b *barrierStore) ListDue(ctx context.Context, tenantID id.TenantID, now time.Time, limit int) ([]*models.Item, error) {
	items, err := b.InMemory.ListDue(ctx, tenantID, now, limit)
	b.listed.Done()
	b.listed.Wait()
	return items, err
}

type brokenStore struct {
	*approvalstore.InMemory
}

func (brokenStore) ListDue(context.Context, id.TenantID, time.Time, int) ([]*models.Item, error) {
	return nil, sentinel.ErrUnavailable
}

type SchedulerSuite struct {
	suite.Suite
	store    *approvalstore.InMemory
	outbox   *outboxstore.InMemory
	settings *tenantservice.Service
	tenant   id.TenantID
	now      time.Time
	ctx      context.Context
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.store = approvalstore.NewInMemory()
	s.outbox = outboxstore.NewInMemory()
	s.settings = tenantservice.New(tenantstore.NewInMemory())
	s.tenant = id.TenantID(uuid.New())
	s.now = time.Date(2026, 4, 14, 9, 0, 0, 0, time.UTC)
	s.ctx = context.Background()
}

func (s *SchedulerSuite) scheduler(store Store, opts ...Option) *Scheduler {
	return New(store, s.outbox, txcontext.NewMemoryRunner(), s.settings, opts...)
}

func (s *SchedulerSuite) putSettings(mutate func(*tenantmodels.Settings)) {
	settings := tenantmodels.Defaults(s.tenant)
	mutate(settings)
	s.Require().NoError(s.settings.Put(s.ctx, settings))
}

func (s *SchedulerSuite) pending(proposal string, priority models.Priority, chain ...id.ActorID) *models.Item {
	sla := 48 * time.Hour
	if priority.IsUrgent() {
		sla = 4 * time.Hour
	}
	item, err := models.NewItem(models.NewItemParams{
		TenantID:        s.tenant,
		ProposalID:      proposal,
		Kind:            models.KindContent,
		Title:           "Spring launch post",
		Priority:        priority,
		Score:           confidence.Result{Score: 70, Recommendation: confidence.RecommendQuickReview},
		AssignedTo:      "approver-a",
		EscalationChain: chain,
		Now:             s.now,
		SLA:             sla,
	})
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, item))
	return item
}

func (s *SchedulerSuite) get(item *models.Item) *models.Item {
	got, err := s.store.Get(s.ctx, s.tenant, item.ID)
	s.Require().NoError(err)
	return got
}

func (s *SchedulerSuite) published() []events.Event {
	var out []events.Event
	for _, entry := range s.outbox.All() {
		evt, err := entry.Event()
		s.Require().NoError(err)
		out = append(out, evt)
	}
	return out
}

func (s *SchedulerSuite) TestScenarioCUrgentItemEscalatesOnce() {
	item := s.pending("p-c", models.PriorityUrgent, "approver-b")
	sched := s.scheduler(s.store)
	sweepAt := s.now.Add(5 * time.Hour)

	res, err := sched.Sweep(s.ctx, s.tenant, sweepAt)
	s.Require().NoError(err)
	s.Equal(SweepResult{Escalated: 1}, res)

	got := s.get(item)
	s.Equal(models.StatusEscalated, got.Status)
	s.Equal(id.ActorID("approver-b"), got.AssignedTo)
	s.Equal(1, got.EscalationLevel)
	s.Equal(sweepAt.Add(4*time.Hour), got.DueAt)
	s.Equal([]time.Time{sweepAt}, got.EscalatedAt())

	res, err = sched.Sweep(s.ctx, s.tenant, sweepAt)
	s.Require().NoError(err)
	s.Zero(res.Changed())

	evs := s.published()
	s.Require().Len(evs, 1)
	s.Equal(events.TypeEscalated, evs[0].Type)
	s.Equal(id.SystemActor, evs[0].Actor())
	payload, err := events.DecodePayload(evs[0])
	s.Require().NoError(err)
	escalated := payload.(events.Escalated)
	s.Equal("approver-b", escalated.AssignedTo)
	s.Equal("approver-a", escalated.PreviousAssignee)
	s.Equal(1, escalated.EscalationCount)
	s.Equal("pending", escalated.FromStatus)
}

func (s *SchedulerSuite) TestChainThenFallbackThenExpiry() {
	s.putSettings(func(st *tenantmodels.Settings) { st.FallbackApprover = "fallback-ops" })
	item := s.pending("p-chain", models.PriorityNormal, "approver-b")
	sched := s.scheduler(s.store)

	at := s.now
	for range 3 {
		at = at.Add(49 * time.Hour)
		_, err := sched.Sweep(s.ctx, s.tenant, at)
		s.Require().NoError(err)
	}

	got := s.get(item)
	s.Equal(models.StatusExpired, got.Status)
	s.Equal(id.ActorID("fallback-ops"), got.AssignedTo)
	s.True(got.FallbackUsed)
	s.Require().Len(got.EscalationHistory, 2)
	s.True(got.EscalationHistory[1].Fallback)

	var types []events.Type
	for _, evt := range s.published() {
		types = append(types, evt.Type)
	}
	s.Equal([]events.Type{events.TypeEscalated, events.TypeEscalated, events.TypeExpired}, types)

	res, err := sched.Sweep(s.ctx, s.tenant, at.Add(1000*time.Hour))
	s.Require().NoError(err)
	s.Zero(res.Changed())
}

func (s *SchedulerSuite) TestWithoutChainOrFallbackItemExpires() {
	item := s.pending("p-lonely", models.PriorityNormal)

	res, err := s.scheduler(s.store).Sweep(s.ctx, s.tenant, s.now.Add(48*time.Hour))
	s.Require().NoError(err)
	s.Equal(SweepResult{Expired: 1}, res)
	s.Equal(models.StatusExpired, s.get(item).Status)

	evs := s.published()
	s.Require().Len(evs, 1)
	payload, err := events.DecodePayload(evs[0])
	s.Require().NoError(err)
	s.Equal(expiredReason, payload.(events.Expired).Reason)
}

func (s *SchedulerSuite) TestRenotifyBeforeEscalating() {
	s.putSettings(func(st *tenantmodels.Settings) { st.RenotifyBeforeEscalating = true })
	item := s.pending("p-remind", models.PriorityUrgent, "approver-b")
	sched := s.scheduler(s.store)

	first := s.now.Add(5 * time.Hour)
	res, err := sched.Sweep(s.ctx, s.tenant, first)
	s.Require().NoError(err)
	s.Equal(SweepResult{Reminded: 1}, res)
	got := s.get(item)
	s.Equal(models.StatusPending, got.Status)
	s.Equal(id.ActorID("approver-a"), got.AssignedTo)
	s.True(got.Reminded)
	s.Equal(first.Add(4*time.Hour), got.DueAt)

	second := first.Add(5 * time.Hour)
	res, err = sched.Sweep(s.ctx, s.tenant, second)
	s.Require().NoError(err)
	s.Equal(SweepResult{Escalated: 1}, res)
	got = s.get(item)
	s.Equal(id.ActorID("approver-b"), got.AssignedTo)
	s.False(got.Reminded)

	third := second.Add(5 * time.Hour)
	_, err = sched.Sweep(s.ctx, s.tenant, third)
	s.Require().NoError(err)
	fourth := third.Add(5 * time.Hour)
	_, err = sched.Sweep(s.ctx, s.tenant, fourth)
	s.Require().NoError(err)

	var types []events.Type
	for _, evt := range s.published() {
		types = append(types, evt.Type)
	}
	s.Equal([]events.Type{
		events.TypeReminded, events.TypeEscalated, events.TypeReminded, events.TypeExpired,
	}, types)
}

func (s *SchedulerSuite) TestConcurrentSweepsHaveOneWinner() {
	item := s.pending("p-race", models.PriorityUrgent, "approver-b", "approver-c")
	shared := &barrierStore{InMemory: s.store}
	shared.listed.Add(2)
	at := s.now.Add(5 * time.Hour)

	results := make([]SweepResult, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.scheduler(shared).Sweep(s.ctx, s.tenant, at)
			s.NoError(err)
			results[i] = res
		}()
	}
	wg.Wait()

	var total SweepResult
	for _, r := range results {
		total.add(r)
	}
	s.Equal(SweepResult{Escalated: 1, Skipped: 1}, total)
	got := s.get(item)
	s.Equal(1, got.EscalationLevel)
	s.Equal(id.ActorID("approver-b"), got.AssignedTo)
	s.Len(s.published(), 1)
}

func (s *SchedulerSuite) TestTerminalItemsAreNeverSwept() {
	auto, err := models.NewItem(models.NewItemParams{
		TenantID:   s.tenant,
		ProposalID: "p-auto",
		Kind:       models.KindContent,
		Title:      "Routine reply",
		Priority:   models.PriorityNormal,
		Score:      confidence.Result{Score: 92, Recommendation: confidence.RecommendAuto},
		Now:        s.now,
		SLA:        time.Hour,
	})
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, auto))

	decided := s.pending("p-decided", models.PriorityUrgent, "approver-b")
	decided = s.get(decided)
	expected := decided.Version
	s.Require().NoError(decided.Decide(models.OutcomeReject, "approver-a", "", "off brand", s.now.Add(time.Hour)))
	s.Require().NoError(s.store.Update(s.ctx, decided, expected))

	res, err := s.scheduler(s.store).Sweep(s.ctx, s.tenant, s.now.Add(1000*time.Hour))
	s.Require().NoError(err)
	s.Equal(SweepResult{}, res)
	s.Empty(s.published())

	got := s.get(auto)
	s.Equal(models.StatusAutoApproved, got.Status)
	s.Equal(id.SystemActor, got.DecidedBy)
	s.Equal(int64(1), got.Version)
}

func (s *SchedulerSuite) TestSweepBatchesUntilDrained() {
	for _, p := range []string{"p-1", "p-2", "p-3", "p-4", "p-5"} {
		s.pending(p, models.PriorityUrgent, "approver-b")
	}

	res, err := s.scheduler(s.store, WithBatchSize(2)).Sweep(s.ctx, s.tenant, s.now.Add(5*time.Hour))
	s.Require().NoError(err)
	s.Equal(5, res.Escalated)
}

func (s *SchedulerSuite) TestSweepErrors() {
	s.Run("nil tenant", func() {
		_, err := s.scheduler(s.store).Sweep(s.ctx, id.TenantID{}, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("store outage is unavailable", func() {
		_, err := s.scheduler(brokenStore{s.store}).Sweep(s.ctx, s.tenant, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
		s.True(errors.Is(err, sentinel.ErrUnavailable))
	})
}

func (s *SchedulerSuite) TestSweepAllCoversTenantsWithoutSettings() {
	other := id.TenantID(uuid.New())
	s.putSettings(func(*tenantmodels.Settings) {})
	s.pending("p-mine", models.PriorityUrgent, "approver-b")
	foreign, err := models.NewItem(models.NewItemParams{
		TenantID:   other,
		ProposalID: "p-other",
		Kind:       models.KindDeal,
		Title:      "Discount for ACME",
		Priority:   models.PriorityUrgent,
		Score:      confidence.Result{Score: 65, Recommendation: confidence.RecommendQuickReview},
		AssignedTo: "approver-z",
		Now:        s.now,
		SLA:        4 * time.Hour,
	})
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, foreign))

	sched := s.scheduler(s.store, WithClock(func() time.Time { return s.now.Add(5 * time.Hour) }))
	res, err := sched.SweepAll(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, res.Escalated)
	s.Equal(1, res.Expired)
}

func (s *SchedulerSuite) TestArchive() {
	item := s.pending("p-old", models.PriorityNormal)
	item = s.get(item)
	expected := item.Version
	s.Require().NoError(item.Decide(models.OutcomeApprove, "approver-a", "", "", s.now))
	s.Require().NoError(s.store.Update(s.ctx, item, expected))
	s.pending("p-open", models.PriorityNormal)

	s.Run("disabled without a window", func() {
		n, err := s.scheduler(s.store).Archive(s.ctx)
		s.Require().NoError(err)
		s.Zero(n)
	})

	s.Run("archives decided items past the window", func() {
		sched := s.scheduler(s.store,
			WithArchiveAfter(24*time.Hour),
			WithClock(func() time.Time { return s.now.Add(48 * time.Hour) }),
		)
		n, err := sched.Archive(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, n)
		s.NotNil(s.get(item).ArchivedAt)
	})
}

func (s *SchedulerSuite) TestRunSweepsUntilCancelled() {
	s.pending("p-run", models.PriorityUrgent, "approver-b")
	ctx, cancel := context.WithCancel(s.ctx)
	sched := s.scheduler(s.store,
		WithInterval(10*time.Millisecond),
		WithClock(func() time.Time { return s.now.Add(5 * time.Hour) }),
	)

	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	s.Eventually(func() bool { return len(s.outbox.All()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	s.NoError(<-done)
	s.Len(s.outbox.All(), 1)
}
