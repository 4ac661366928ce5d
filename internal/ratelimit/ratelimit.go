// Package ratelimit throttles discovery lookups per client address with a
// token bucket.
//
// Clients are keyed on the connection's remote address. Behind a proxy that
// would put every client into one bucket, so TrustForwardedFor switches the
// key to the last X-Forwarded-For hop, the address the proxy itself appended.
// Enable it only when a trusted proxy always sets that header.
package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nolto/nolto-edge/internal/respond"
	"github.com/nolto/nolto-edge/pkg/domain"
	"github.com/nolto/nolto-edge/pkg/telemetry"
)

// sweepThreshold is the number of tracked clients above which full buckets are evicted.
const sweepThreshold = 10000

// Config defines the per-client limit. A non-positive RequestsPerSecond disables limiting.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	TrustForwardedFor bool
}

// Enabled reports whether c limits anything.
func (c Config) Enabled() bool {
	return c.RequestsPerSecond > 0
}

// Limiter implements token bucket rate limiting per client key.
type Limiter struct {
	mu      sync.Mutex
	rate    float64
	burst   float64
	buckets map[string]*bucket
	now     func() time.Time

	trustForwarded bool
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// New creates a limiter for cfg. A zero burst defaults to one second of traffic.
func New(cfg Config) *Limiter {
	burst := float64(cfg.Burst)
	if burst <= 0 {
		burst = math.Max(1, math.Ceil(cfg.RequestsPerSecond))
	}
	return &Limiter{
		rate:    cfg.RequestsPerSecond,
		burst:   burst,
		buckets: make(map[string]*bucket),
		now:     time.Now,

		trustForwarded: cfg.TrustForwardedFor,
	}
}

// Allow consumes a token for key. When the bucket is empty it returns false
// and the wait until the next token.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= sweepThreshold {
			l.sweep(now)
		}
		b = &bucket{tokens: l.burst, lastRefill: now}
		l.buckets[key] = b
	}

	b.tokens = math.Min(l.burst, b.tokens+now.Sub(b.lastRefill).Seconds()*l.rate)
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
	return false, wait
}

// sweep drops buckets that have refilled completely; they carry no state.
func (l *Limiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if b.tokens+now.Sub(b.lastRefill).Seconds()*l.rate >= l.burst {
			delete(l.buckets, key)
		}
	}
}

// Middleware rejects requests over the limit with 429 and records them.
func (l *Limiter) Middleware(metrics *telemetry.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := l.Allow(l.clientKey(r))
		if !ok {
			metrics.RecordDiscovery(telemetry.OutcomeRateLimited)
			seconds := int(math.Ceil(wait.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
			respond.Error(r.Context(), w, http.StatusTooManyRequests, domain.CodeRateLimited, "Too many discovery requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Limiter) clientKey(r *http.Request) string {
	if l.trustForwarded {
		if hop := lastForwardedHop(r.Header.Values("X-Forwarded-For")); hop != "" {
			return hop
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func lastForwardedHop(values []string) string {
	for i := len(values) - 1; i >= 0; i-- {
		hops := strings.Split(values[i], ",")
		for j := len(hops) - 1; j >= 0; j-- {
			if ip := net.ParseIP(strings.TrimSpace(hops[j])); ip != nil {
				return ip.String()
			}
		}
	}
	return ""
}
