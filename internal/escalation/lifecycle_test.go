package escalation_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/approval/models"
	approvalservice "gatekeeper/internal/approval/service"
	approvalstore "gatekeeper/internal/approval/store"
	"gatekeeper/internal/confidence"
	"gatekeeper/internal/directory"
	"gatekeeper/internal/escalation"
	outboxstore "gatekeeper/internal/outbox/store"
	tenantservice "gatekeeper/internal/tenant/service"
	tenantstore "gatekeeper/internal/tenant/store"
	id "gatekeeper/pkg/domain"
	txcontext "gatekeeper/pkg/platform/tx"
	"gatekeeper/pkg/requestcontext"
	"gatekeeper/pkg/testutil"
)

func TestRoutedItemsUnderTheScheduler(t *testing.T) {
	tenant := id.TenantID(uuid.New())
	created := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), created)

	store := approvalstore.NewInMemory()
	outbox := outboxstore.NewInMemory()
	tx := txcontext.NewMemoryRunner()
	settings := tenantservice.New(tenantstore.NewInMemory())
	dir := directory.NewStatic()
	dir.SetRoster(tenant, directory.Roster{
		DefaultApprovers: map[string]id.ActorID{directory.AnyKind: "approver-a"},
		EscalationChains: map[string][]id.ActorID{directory.AnyKind: {"approver-b"}},
	})
	approvals := approvalservice.New(store, outbox, tx, dir, settings)
	scheduler := escalation.New(store, outbox, tx, settings)

	testutil.Given(t, "an auto-approved proposal", func(t *testing.T) {
		item, err := approvals.Route(ctx, approvalservice.RouteRequest{
			TenantID:   tenant,
			ProposalID: "auto-1",
			Kind:       "email",
			Title:      "Order confirmation reply",
			Factors: []confidence.Factor{
				{Name: "quality", Score: 90, Weight: 2},
				{Name: "brand", Score: 80, Weight: 1},
			},
		})
		require.NoError(t, err)
		require.Equal(t, models.StatusAutoApproved, item.Status)

		testutil.When(t, "the scheduler sweeps long after its deadline", func(t *testing.T) {
			res, err := scheduler.Sweep(ctx, tenant, created.Add(30*24*time.Hour))
			require.NoError(t, err)

			testutil.Then(t, "the item is never touched", func(t *testing.T) {
				assert.Zero(t, res.Changed())
				got, err := store.Get(ctx, tenant, item.ID)
				require.NoError(t, err)
				assert.Equal(t, models.StatusAutoApproved, got.Status)
				assert.Equal(t, id.SystemActor, got.DecidedBy)
				assert.Equal(t, item.Version, got.Version)
			})
		})
	})

	testutil.Given(t, "an urgent proposal routed for review", func(t *testing.T) {
		item, err := approvals.Route(ctx, approvalservice.RouteRequest{
			TenantID:    tenant,
			ProposalID:  "review-1",
			Kind:        "deal",
			Title:       "Discount for ACME",
			Priority:    "urgent",
			AIReasoning: "margin below floor",
			Factors:     []confidence.Factor{{Name: "margin", Score: 40, Weight: 1}},
		})
		require.NoError(t, err)
		require.Equal(t, models.StatusPending, item.Status)
		require.Equal(t, created.Add(4*time.Hour), item.DueAt)

		testutil.When(t, "the sweep runs five hours later", func(t *testing.T) {
			res, err := scheduler.Sweep(ctx, tenant, created.Add(5*time.Hour))
			require.NoError(t, err)

			testutil.Then(t, "the next approver in the chain owns it", func(t *testing.T) {
				assert.Equal(t, 1, res.Escalated)
				got, err := store.Get(ctx, tenant, item.ID)
				require.NoError(t, err)
				assert.Equal(t, models.StatusEscalated, got.Status)
				assert.Equal(t, id.ActorID("approver-b"), got.AssignedTo)
			})
		})
	})
}
