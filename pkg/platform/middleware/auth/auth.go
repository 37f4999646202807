package auth

import (
	"log/slog"
	"net/http"
	"strings"

	id "gatekeeper/pkg/domain"
	dErrors "gatekeeper/pkg/domain-errors"
	"gatekeeper/pkg/platform/httputil"
	"gatekeeper/pkg/requestcontext"
)

// JWTValidator turns a bearer token into claims.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator.
// Channel is optional; when set to ui or agent it overrides the channel
// guessed from the User-Agent.
type JWTClaims struct {
	Subject  string
	TenantID string
	Channel  string
}

// RequireAuth validates the bearer token and places the tenant, the actor
// and, when the token names one, the channel on the request context. Tokens
// without a tenant and a subject are rejected.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reject := func(reason, desc string, err error) {
				logger.WarnContext(ctx, "unauthorized request",
					"reason", reason,
					"error", err,
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, desc))
			}

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				reject("missing_token", "Missing or invalid Authorization header", nil)
				return
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				reject("invalid_token", "Invalid or expired token", err)
				return
			}
			tenantID, err := id.ParseTenantID(claims.TenantID)
			if err != nil {
				reject("no_tenant", "Token is missing a valid tenant", err)
				return
			}
			actorID, err := id.ParseActorID(claims.Subject)
			if err != nil {
				reject("no_subject", "Token is missing a valid subject", err)
				return
			}

			ctx = requestcontext.WithTenantID(ctx, tenantID)
			ctx = requestcontext.WithActorID(ctx, actorID)
			switch ch := requestcontext.Channel(claims.Channel); ch {
			case requestcontext.ChannelUI, requestcontext.ChannelAgent:
				ctx = requestcontext.WithChannel(ctx, ch)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
