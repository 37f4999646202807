// Package jwttoken issues and validates the HS256 bearer tokens presented by
// reviewer UIs and agents. A token names one tenant, one actor and optionally
// the channel the actor decides through.
package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "gatekeeper/pkg/domain"
	dErrors "gatekeeper/pkg/domain-errors"
	authmw "gatekeeper/pkg/platform/middleware/auth"
	"gatekeeper/pkg/requestcontext"
)

// Claims carried by a gatekeeper token. The subject is the actor.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Channel  string `json:"channel,omitempty"`
	jwt.RegisteredClaims
}

// TokenRequest describes a token to issue.
type TokenRequest struct {
	TenantID id.TenantID
	Actor    id.ActorID
	Channel  requestcontext.Channel
	TTL      time.Duration
}

type Service struct {
	signingKey []byte
	issuer     string
	audience   string
	now        func() time.Time
}

func NewService(signingKey, issuer, audience string) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		now:        time.Now,
	}
}

// Issue signs a token for req.
func (s *Service) Issue(req TokenRequest) (string, error) {
	if req.TenantID.IsNil() {
		return "", dErrors.New(dErrors.CodeValidation, "tenant_id is required")
	}
	if req.Actor.IsZero() {
		return "", dErrors.New(dErrors.CodeValidation, "actor is required")
	}
	switch req.Channel {
	case requestcontext.ChannelUnknown, requestcontext.ChannelUI, requestcontext.ChannelAgent:
	default:
		return "", dErrors.New(dErrors.CodeValidation, "channel must be ui or agent")
	}

	now := s.now()
	claims := Claims{
		TenantID: req.TenantID.String(),
		Channel:  string(req.Channel),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.Actor.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(req.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
	}
	return signed, nil
}

// Parse verifies the signature, expiry, issuer and audience of a token.
func (s *Service) Parse(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.signingKey, nil
	}, opts...)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
	case err != nil:
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return claims, nil
}

// ValidateToken satisfies the auth middleware's validator.
func (s *Service) ValidateToken(token string) (*authmw.JWTClaims, error) {
	claims, err := s.Parse(token)
	if err != nil {
		return nil, err
	}
	return &authmw.JWTClaims{
		Subject:  claims.Subject,
		TenantID: claims.TenantID,
		Channel:  claims.Channel,
	}, nil
}
