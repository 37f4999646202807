package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"gatekeeper/internal/platform/metrics"
	"gatekeeper/pkg/platform/httputil"
	"gatekeeper/pkg/platform/middleware/admin"
	"gatekeeper/pkg/platform/middleware/auth"
	"gatekeeper/pkg/platform/middleware/metadata"
	"gatekeeper/pkg/platform/middleware/request"
)

// Module mounts its routes on a chi router.
type Module interface {
	Register(r chi.Router)
}

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the pieces the router is assembled from. Admin routes are only
// mounted when an admin token is configured.
type Deps struct {
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Validator  auth.JWTValidator
	AdminToken string
	API        []Module
	Admin      []Module
	Health     []HealthCheck
}

const healthTimeout = 2 * time.Second

// NewRouter wires the public API behind bearer auth, the operator API behind
// the admin token, and the unauthenticated probes.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Time)
	r.Use(metadata.ClientMetadata)
	r.Use(d.Metrics.Instrument)

	r.Get("/healthz", healthHandler(d.Health, d.Logger))
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(d.Validator, d.Logger))
		for _, m := range d.API {
			m.Register(r)
		}
	})

	if d.AdminToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(admin.RequireAdminToken(d.AdminToken, d.Logger))
			for _, m := range d.Admin {
				m.Register(r)
			}
		})
	}
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks []HealthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				logger.WarnContext(ctx, "health check failed", "check", c.Name, "error", err)
				resp.Checks[c.Name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[c.Name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
