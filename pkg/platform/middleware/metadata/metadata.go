package metadata

import (
	"net"
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"gatekeeper/pkg/requestcontext"
)

// ClientMetadata records client IP and User-Agent, and classifies the caller
// as a UI (browser) or an agent (bots, SDKs, CLIs). The channel is attached to
// decision events so reviewers can tell human clicks from automated decisions.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := r.Header.Get("User-Agent")
		ctx := requestcontext.WithClientMetadata(r.Context(), ClientIPFromRequest(r), ua)
		ctx = requestcontext.WithChannel(ctx, ClassifyChannel(ua))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClassifyChannel maps a User-Agent to a decision channel.
func ClassifyChannel(userAgent string) requestcontext.Channel {
	if strings.TrimSpace(userAgent) == "" {
		return requestcontext.ChannelUnknown
	}
	ua := useragent.New(userAgent)
	if ua.Bot() {
		return requestcontext.ChannelAgent
	}
	if name, _ := ua.Browser(); name == "" || !strings.HasPrefix(userAgent, "Mozilla/") {
		return requestcontext.ChannelAgent
	}
	return requestcontext.ChannelUI
}

// ClientIPFromRequest returns the first X-Forwarded-For hop, then X-Real-IP,
// then the connection's remote host.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
