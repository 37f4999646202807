package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/approval/models"
	approvalservice "gatekeeper/internal/approval/service"
	"gatekeeper/internal/confidence"
	"gatekeeper/internal/directory"
	"gatekeeper/internal/events"
	"gatekeeper/internal/platform/config"
	id "gatekeeper/pkg/domain"
)

func memoryConfig() config.Config {
	cfg := config.FromEnv()
	cfg.Database.URL = ""
	cfg.Redis.URL = ""
	cfg.Kafka.Brokers = nil
	cfg.NATS.URL = ""
	cfg.SeedFile = ""
	cfg.Outbox.PollInterval = 10 * time.Millisecond
	cfg.Dispatcher.RetryPumpEvery = 10 * time.Millisecond
	return cfg
}

func TestInMemoryPipeline(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := Build(ctx, memoryConfig(), logger, nil)
	require.NoError(t, err)
	defer a.Close()
	assert.ElementsMatch(t, []string{"audit", "notifications"}, a.Dispatcher.Groups())

	tenant := id.TenantID(uuid.New())
	a.Directory.SetRoster(tenant, directory.Roster{
		DefaultApprovers: map[string]id.ActorID{directory.AnyKind: "approver-a"},
		EscalationChains: map[string][]id.ActorID{directory.AnyKind: {"approver-b"}},
	})

	done := make(chan error, 1)
	go func() { done <- a.RunWorkers(ctx) }()

	item, err := a.Approvals.Route(ctx, approvalservice.RouteRequest{
		TenantID:    tenant,
		ProposalID:  "proposal-1",
		Kind:        "content",
		Title:       "Spring launch post",
		AIReasoning: "tone is borderline",
		Factors:     []confidence.Factor{{Name: "quality", Score: 70, Weight: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, item.Status)

	_, err = a.Approvals.Decide(ctx, approvalservice.DecideRequest{
		TenantID:   tenant,
		ApprovalID: item.ID,
		ActorID:    "approver-a",
		Outcome:    "approve",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		recs, err := a.audit.ListByApproval(ctx, tenant, item.ID)
		return err == nil && len(recs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	recs, err := a.audit.ListByApproval(ctx, tenant, item.ID)
	require.NoError(t, err)
	assert.Equal(t, events.TypeRequested, recs[0].EventType)
	assert.Equal(t, events.TypeGranted, recs[1].EventType)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestHandlerServesHealth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := Build(context.Background(), memoryConfig(), logger, nil)
	require.NoError(t, err)
	defer a.Close()

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/approvals", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
