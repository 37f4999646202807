// Package requestcontext provides HTTP-independent accessors for request-scoped values.
//
// Middleware sets these values; services read them. Keeping the package free of
// net/http lets services, workers and the CLI share it.
//
// Usage in services:
//
//	tenantID := requestcontext.TenantID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	id "gatekeeper/pkg/domain"
)

// Channel tells whether a caller is a human-facing UI or an automated agent.
type Channel string

const (
	ChannelUnknown Channel = ""
	ChannelUI      Channel = "ui"
	ChannelAgent   Channel = "agent"
)

type key int

const (
	tenantIDKey key = iota
	actorIDKey
	requestIDKey
	requestTimeKey
	clientIPKey
	userAgentKey
	channelKey
)

func value[T any](ctx context.Context, k key) T {
	v, _ := ctx.Value(k).(T)
	return v
}

// TenantID returns the authenticated tenant, or the zero value.
func TenantID(ctx context.Context) id.TenantID { return value[id.TenantID](ctx, tenantIDKey) }

func WithTenantID(ctx context.Context, tenantID id.TenantID) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// ActorID returns the authenticated actor, or "".
func ActorID(ctx context.Context) id.ActorID { return value[id.ActorID](ctx, actorIDKey) }

func WithActorID(ctx context.Context, actorID id.ActorID) context.Context {
	return context.WithValue(ctx, actorIDKey, actorID)
}

func RequestID(ctx context.Context) string { return value[string](ctx, requestIDKey) }

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// Now returns the pinned time, falling back to time.Now.
// All timestamps written during one request or one sweep share this value.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins "now" for a request, a worker batch, or a test.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey, t)
}

func ClientIP(ctx context.Context) string  { return value[string](ctx, clientIPKey) }
func UserAgent(ctx context.Context) string { return value[string](ctx, userAgentKey) }

// WithClientMetadata injects client IP and User-Agent.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey, clientIP)
	return context.WithValue(ctx, userAgentKey, userAgent)
}

// CallerChannel returns the channel the request came through. Decisions
// record it so agent and reviewer traffic can be told apart.
func CallerChannel(ctx context.Context) Channel { return value[Channel](ctx, channelKey) }

func WithChannel(ctx context.Context, ch Channel) context.Context {
	return context.WithValue(ctx, channelKey, ch)
}
