package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/pkg/platform/middleware/admin"
	"gatekeeper/pkg/platform/middleware/auth"
	"gatekeeper/pkg/requestcontext"
)

type stubValidator struct {
	claims *auth.JWTClaims
}

func (s stubValidator) ValidateToken(token string) (*auth.JWTClaims, error) {
	if token != "good" {
		return nil, errors.New("invalid")
	}
	return s.claims, nil
}

// echoModule answers with the authenticated actor.
type echoModule struct{ path string }

func (m echoModule) Register(r chi.Router) {
	r.Get(m.path, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(requestcontext.ActorID(r.Context()).String()))
	})
}

func newRouter(adminToken string, checks ...HealthCheck) http.Handler {
	return NewRouter(Deps{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Validator: stubValidator{claims: &auth.JWTClaims{
			Subject:  "alice",
			TenantID: uuid.NewString(),
		}},
		AdminToken: adminToken,
		API:        []Module{echoModule{path: "/v1/approvals"}},
		Admin:      []Module{echoModule{path: "/v1/admin/dead-letters"}},
		Health:     checks,
	})
}

func serve(h http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPIRequiresBearerToken(t *testing.T) {
	router := newRouter("secret")

	rec := serve(router, "/v1/approvals", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(router, "/v1/approvals", map[string]string{"Authorization": "Bearer good"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAdminRoutes(t *testing.T) {
	t.Run("guarded by the admin token", func(t *testing.T) {
		router := newRouter("secret")
		rec := serve(router, "/v1/admin/dead-letters", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = serve(router, "/v1/admin/dead-letters", map[string]string{admin.HeaderAdminToken: "secret"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("not mounted without a token", func(t *testing.T) {
		rec := serve(newRouter(""), "/v1/admin/dead-letters", map[string]string{admin.HeaderAdminToken: ""})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealthz(t *testing.T) {
	ok := HealthCheck{Name: "database", Check: func(context.Context) error { return nil }}
	down := HealthCheck{Name: "event_log", Check: func(context.Context) error { return errors.New("no brokers") }}

	rec := serve(newRouter("", ok), "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(newRouter("", ok, down), "/healthz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, map[string]string{"database": "ok", "event_log": "unavailable"}, body.Checks)
}

func TestMetricsEndpointIsPublic(t *testing.T) {
	rec := serve(newRouter(""), "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
