package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"gatekeeper/pkg/requestcontext"
)

func TestClassifyChannel(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want requestcontext.Channel
	}{
		{"empty", "", requestcontext.ChannelUnknown},
		{"desktop chrome", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", requestcontext.ChannelUI},
		{"googlebot", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", requestcontext.ChannelAgent},
		{"sdk client", "gatekeeper-agent-sdk/1.4 (go1.25)", requestcontext.ChannelAgent},
		{"curl", "curl/8.4.0", requestcontext.ChannelAgent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyChannel(tt.ua))
		})
	}
}

func TestClientMetadata(t *testing.T) {
	var captured *http.Request
	h := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req.Header.Set("User-Agent", "curl/8.4.0")
	h.ServeHTTP(httptest.NewRecorder(), req)

	ctx := captured.Context()
	assert.Equal(t, "203.0.113.7", requestcontext.ClientIP(ctx))
	assert.Equal(t, "curl/8.4.0", requestcontext.UserAgent(ctx))
	assert.Equal(t, requestcontext.ChannelAgent, requestcontext.CallerChannel(ctx))
}

func TestClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": " 203.0.113.7 , 10.0.0.1"}, "10.0.0.2:443", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:443", "198.51.100.4"},
		{"remote ipv4", nil, "192.0.2.1:5555", "192.0.2.1"},
		{"remote ipv6", nil, "[2001:db8::1]:5555", "2001:db8::1"},
		{"remote without port", nil, "192.0.2.1", "192.0.2.1"},
		{"nothing", nil, "", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIPFromRequest(req))
		})
	}
}
