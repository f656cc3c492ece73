package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2witstudios/pagespace-security/internal/core/domain"
)

type stubLimiter struct {
	decisions   []domain.Decision
	identifiers []string
}

func (s *stubLimiter) Allow(_ context.Context, identifier string, rule domain.RateLimitRule) domain.Decision {
	s.identifiers = append(s.identifiers, identifier)
	d := s.decisions[0]
	if len(s.decisions) > 1 {
		s.decisions = s.decisions[1:]
	}
	d.Identifier = identifier
	d.AppliedRule = rule
	return d
}

func (s *stubLimiter) Reset(context.Context, string) {}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimiterMiddleware_AllowsAndSetsHeaders(t *testing.T) {
	limiter := &stubLimiter{decisions: []domain.Decision{{Allowed: true, AttemptsRemaining: 4}}}
	rule := domain.RateLimitRule{MaxAttempts: 5, Window: time.Minute}
	handler := NewRateLimiterMiddleware(limiter, domain.PresetLogin, rule, nil)(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, []string{"login:10.0.0.1"}, limiter.identifiers)
}

func TestRateLimiterMiddleware_DeniesWithRetryAfter(t *testing.T) {
	limiter := &stubLimiter{decisions: []domain.Decision{{Allowed: false, RetryAfter: 4 * time.Second}}}
	rule := domain.RateLimitRule{MaxAttempts: 5, Window: time.Minute}
	handler := RequestID(NewRateLimiterMiddleware(limiter, domain.PresetLogin, rule, nil)(okHandler))

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "4", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body.Error.Code)
	assert.Equal(t, rateLimitExceededMessage, body.Error.Message)
	assert.Equal(t, "req-1", body.Error.RequestID)
}

func TestRateLimiterMiddleware_NilLimiterPassesThrough(t *testing.T) {
	handler := NewRateLimiterMiddleware(nil, domain.PresetAPI, domain.RateLimitRule{}, nil)(okHandler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestKeyByHeader(t *testing.T) {
	keyFn := KeyByHeader("X-API-Key")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", keyFn(req))

	req.Header.Set("X-API-Key", "abc")
	assert.Equal(t, "X-API-Key:abc", keyFn(req))
}

func TestClientIPResolver(t *testing.T) {
	resolver := NewClientIPResolver([]netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("::1/128"),
	})

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "untrusted peer ignores forwarded for", headers: map[string]string{"X-Forwarded-For": "203.0.113.5"}, remote: "192.0.2.9:1", want: "192.0.2.9"},
		{name: "untrusted peer ignores real ip", headers: map[string]string{"X-Real-IP": "198.51.100.4"}, remote: "192.0.2.9:1", want: "192.0.2.9"},
		{name: "trusted proxy", headers: map[string]string{"X-Forwarded-For": "203.0.113.5"}, remote: "10.0.0.2:1", want: "203.0.113.5"},
		{name: "rightmost untrusted hop wins", headers: map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.5, 10.0.0.7"}, remote: "10.0.0.2:1", want: "203.0.113.5"},
		{name: "garbage hops skipped", headers: map[string]string{"X-Forwarded-For": "203.0.113.5, not-an-ip"}, remote: "10.0.0.2:1", want: "203.0.113.5"},
		{name: "real ip from trusted proxy", headers: map[string]string{"X-Real-IP": "198.51.100.4"}, remote: "10.0.0.2:1", want: "198.51.100.4"},
		{name: "only trusted hops", headers: map[string]string{"X-Forwarded-For": "10.1.1.1"}, remote: "10.0.0.2:1", want: "10.0.0.2"},
		{name: "ipv6 loopback proxy", headers: map[string]string{"X-Forwarded-For": "2001:db8::1"}, remote: "[::1]:443", want: "2001:db8::1"},
		{name: "mapped peer is unmapped", remote: "[::ffff:192.0.2.7]:80", want: "192.0.2.7"},
		{name: "remote without port", remote: "192.0.2.8", want: "192.0.2.8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, resolver.ClientIP(req))
		})
	}
}

func TestKeyByIP_IgnoresForwardingHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	req.Header.Set("X-Real-IP", "198.51.100.4")

	assert.Equal(t, "192.0.2.1", KeyByIP(req))
	assert.Equal(t, "192.0.2.1", NewClientIPResolver(nil).Key(req))
}

func TestRateLimiterMiddleware_RotatingForwardedForKeepsOneKey(t *testing.T) {
	limiter := &stubLimiter{decisions: []domain.Decision{{Allowed: true}}}
	resolver := NewClientIPResolver([]netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")})
	handler := NewRateLimiterMiddleware(limiter, domain.PresetLogin, domain.RateLimitRule{MaxAttempts: 5, Window: time.Minute}, resolver.Key)(okHandler)

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "192.0.2.50:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.Len(t, limiter.identifiers, 10)
	for _, id := range limiter.identifiers {
		assert.Equal(t, "login:192.0.2.50", id)
	}
}
