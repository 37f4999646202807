package handler

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"gatekeeper/internal/dispatcher"
	"gatekeeper/internal/dispatcher/ledger"
	"gatekeeper/internal/dispatcher/models"
	"gatekeeper/internal/dispatcher/store"
	"gatekeeper/internal/eventlog"
	"gatekeeper/internal/events"
	id "gatekeeper/pkg/domain"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/testutil"
)

type AdminHandlerSuite struct {
	suite.Suite
	router chi.Router
	log    *eventlog.Memory
	dead   *store.InMemoryDeadLetters
	letter *models.DeadLetter
	now    time.Time
}

func TestAdminHandlerSuite(t *testing.T) {
	suite.Run(t, new(AdminHandlerSuite))
}

func (s *AdminHandlerSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return s.now }
	s.log = eventlog.NewMemory(eventlog.WithClock(clock))
	s.dead = store.NewInMemoryDeadLetters()
	d := dispatcher.New(s.log, store.NewInMemoryRetries(), s.dead, ledger.NewInMemory(), dispatcher.WithClock(clock))
	noop := dispatcher.HandlerFunc(func(context.Context, events.Event) error { return nil })
	s.Require().NoError(d.Subscribe("audit", "approval.*", noop))

	e, err := events.New(events.TypeRequested, id.TenantID(uuid.New()), id.NewApprovalID(), "", s.now, events.Requested{Kind: "deal"})
	s.Require().NoError(err)
	entry := &models.RetryEntry{Group: "audit", Event: e, Attempts: 4, LastError: "audit store down"}
	s.letter = models.NewDeadLetter(entry, s.now)
	s.Require().NoError(s.dead.Add(context.Background(), s.letter))

	s.router = chi.NewRouter()
	New(d, slog.Default()).Register(s.router)
}

func (s *AdminHandlerSuite) TestListAndGet() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/admin/dead-letters?group=audit"))
	testutil.AssertStatusOK(s.T(), rr)
	list := testutil.UnmarshalResponse[deadLetterList](s.T(), rr)
	s.Require().Len(list.DeadLetters, 1)
	s.Equal(4, list.DeadLetters[0].Attempts)
	s.Equal("audit store down", list.DeadLetters[0].LastError)

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/admin/dead-letters/"+s.letter.ID.String()))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "deliveryAttempts", float64(4))

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/admin/dead-letters?group=billing"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeValidation))

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/admin/dead-letters/"+uuid.NewString()))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, string(dErrors.CodeNotFound))
}

func (s *AdminHandlerSuite) TestReplayAndResolve() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/v1/admin/dead-letters/"+s.letter.ID.String()+"/replay"))
	testutil.AssertStatus(s.T(), rr, http.StatusAccepted)
	s.Equal(1, s.log.Len())

	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost,
		"/v1/admin/dead-letters/"+s.letter.ID.String()+"/resolve", map[string]any{"note": "fixed"}))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeValidation))

	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost,
		"/v1/admin/dead-letters/"+s.letter.ID.String()+"/resolve", map[string]any{"resolved_by": "ops", "note": "fixed"}))
	testutil.AssertStatus(s.T(), rr, http.StatusNoContent)

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/v1/admin/dead-letters/"+s.letter.ID.String()+"/replay"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, string(dErrors.CodeConflict))
}

func (s *AdminHandlerSuite) TestReplayRange() {
	e, err := events.New(events.TypeGranted, id.TenantID(uuid.New()), id.NewApprovalID(), "approver-a", s.now, events.Decided{Title: "t"})
	s.Require().NoError(err)
	s.Require().NoError(s.log.Append(context.Background(), e))
	s.now = s.now.Add(time.Minute)

	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/admin/replay", map[string]any{
		"from":  s.now.Add(-time.Hour),
		"to":    s.now,
		"types": []string{"approval.granted"},
		"group": "audit",
	}))
	testutil.AssertStatus(s.T(), rr, http.StatusAccepted)
	testutil.AssertJSONContains(s.T(), rr, "replayed", float64(1))

	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/admin/replay", map[string]any{
		"from":  s.now,
		"to":    s.now.Add(-time.Hour),
	}))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeValidation))

	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/admin/replay", map[string]any{
		"from":  s.now.Add(-time.Hour),
		"to":    s.now,
		"types": []string{"billing.paid"},
	}))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeValidation))
}
