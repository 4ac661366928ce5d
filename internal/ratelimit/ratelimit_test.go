package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nolto/nolto-edge/pkg/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestLimiter(cfg Config) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := New(cfg)
	l.now = clock.now
	return l, clock
}

func TestLimiterBurstAndRefill(t *testing.T) {
	l, clock := newTestLimiter(Config{RequestsPerSecond: 2, Burst: 3})

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("203.0.113.1")
		require.True(t, ok, "request %d", i)
	}
	ok, wait := l.Allow("203.0.113.1")
	assert.False(t, ok)
	assert.Equal(t, 500*time.Millisecond, wait)

	ok, _ = l.Allow("203.0.113.2")
	assert.True(t, ok, "clients are limited independently")

	clock.t = clock.t.Add(500 * time.Millisecond)
	ok, _ = l.Allow("203.0.113.1")
	assert.True(t, ok)
}

func TestLimiterDefaultBurst(t *testing.T) {
	l, _ := newTestLimiter(Config{RequestsPerSecond: 0.5})
	ok, _ := l.Allow("a")
	assert.True(t, ok)
	ok, wait := l.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, 2*time.Second, wait)
}

func TestLimiterSweepsFullBuckets(t *testing.T) {
	l, clock := newTestLimiter(Config{RequestsPerSecond: 10, Burst: 1})
	for i := 0; i < sweepThreshold; i++ {
		l.Allow(time.Duration(i).String())
	}
	require.Len(t, l.buckets, sweepThreshold)

	clock.t = clock.t.Add(time.Second)
	l.Allow("newcomer")
	assert.Len(t, l.buckets, 1)
}

func TestMiddleware(t *testing.T) {
	l, _ := newTestLimiter(Config{RequestsPerSecond: 1, Burst: 1})
	h := l.Middleware(nil, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/.well-known/webfinger", nil)
	req.RemoteAddr = "198.51.100.4:5555"

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))

	var body domain.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, domain.CodeRateLimited, body.Code)
}

func TestConfigEnabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{RequestsPerSecond: 5}.Enabled())
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name    string
		trust   bool
		remote  string
		forward []string
		want    string
	}{
		{name: "remote address", remote: "198.51.100.4:5555", want: "198.51.100.4"},
		{name: "forwarded ignored by default", remote: "10.0.0.1:443", forward: []string{"203.0.113.9"}, want: "10.0.0.1"},
		{name: "last hop when trusted", trust: true, remote: "10.0.0.1:443", forward: []string{"1.1.1.1, 203.0.113.9"}, want: "203.0.113.9"},
		{name: "last header line wins", trust: true, remote: "10.0.0.1:443", forward: []string{"1.1.1.1", "203.0.113.7 "}, want: "203.0.113.7"},
		{name: "garbage hops skipped", trust: true, remote: "10.0.0.1:443", forward: []string{"203.0.113.9, unknown"}, want: "203.0.113.9"},
		{name: "no header falls back", trust: true, remote: "10.0.0.1:443", want: "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(Config{RequestsPerSecond: 1, TrustForwardedFor: tt.trust})
			req := httptest.NewRequest(http.MethodGet, "/.well-known/webfinger", nil)
			req.RemoteAddr = tt.remote
			for _, v := range tt.forward {
				req.Header.Add("X-Forwarded-For", v)
			}
			assert.Equal(t, tt.want, l.clientKey(req))
		})
	}
}

func TestMiddlewareSeparatesForwardedClients(t *testing.T) {
	l, _ := newTestLimiter(Config{RequestsPerSecond: 1, Burst: 1, TrustForwardedFor: true})
	h := l.Middleware(nil, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, client := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodGet, "/.well-known/webfinger", nil)
		req.RemoteAddr = "10.0.0.1:443"
		req.Header.Set("X-Forwarded-For", client)

		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNoContent, rr.Code, client)
	}
}
