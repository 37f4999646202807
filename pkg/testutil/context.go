package testutil

import (
	"net/http"
	"time"

	id "gatekeeper/pkg/domain"
	"gatekeeper/pkg/requestcontext"
)

// WithAuth adds the tenant and actor to the request context.
// This simulates what the auth middleware would do for authenticated requests.
// An invalid tenant id is silently ignored.
func WithAuth(req *http.Request, tenantID string, actor string) *http.Request {
	ctx := req.Context()
	if parsed, err := id.ParseTenantID(tenantID); err == nil {
		ctx = requestcontext.WithTenantID(ctx, parsed)
	}
	if actor != "" {
		ctx = requestcontext.WithActorID(ctx, id.ActorID(actor))
	}
	return req.WithContext(ctx)
}

// WithChannel tags the request as coming from a UI or an agent.
func WithChannel(req *http.Request, ch requestcontext.Channel) *http.Request {
	return req.WithContext(requestcontext.WithChannel(req.Context(), ch))
}

// WithTime pins the request time.
func WithTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
