package httpmiddleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client token bucket limiter.
type RateLimitConfig struct {
	// Max is the bucket capacity and also the refill amount per Window.
	Max int
	// Window is the period over which a full bucket is restored.
	Window time.Duration
	// KeyFunc derives the bucket key from a request. Nil means client IP.
	KeyFunc func(*http.Request) string
}

// bucket is a token bucket refilled continuously at capacity/window per
// second. lastSeen drives idle eviction.
type bucket struct {
	tokens   float64
	lastFill time.Time
	lastSeen time.Time
}

type limiter struct {
	cfg    RateLimitConfig
	rate   float64 // tokens per second
	burst  float64
	mu     sync.Mutex
	active map[string]*bucket
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	return &limiter{
		cfg:    cfg,
		rate:   float64(cfg.Max) / cfg.Window.Seconds(),
		burst:  float64(cfg.Max),
		active: make(map[string]*bucket),
	}
}

// take consumes one token for key. It reports whether a token was available,
// how many whole tokens remain, and how long until the next token when the
// bucket is empty.
func (l *limiter) take(key string, now time.Time) (allowed bool, remaining int, wait time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.active[key]
	if !ok {
		b = &bucket{tokens: l.burst, lastFill: now}
		l.active[key] = b
	}

	refill := now.Sub(b.lastFill).Seconds() * l.rate
	if refill > 0 {
		b.tokens = min(l.burst, b.tokens+refill)
		b.lastFill = now
	}
	b.lastSeen = now

	if b.tokens < 1 {
		wait = time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
		return false, 0, wait
	}
	b.tokens--
	return true, int(b.tokens), 0
}

// sweep drops buckets idle for at least a full window; by then they have
// refilled completely and carry no state worth keeping.
func (l *limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.active {
		if now.Sub(b.lastSeen) >= l.cfg.Window {
			delete(l.active, key)
		}
	}
}

// RateLimit returns a middleware enforcing a per-key token bucket. Exceeding
// the limit yields 429 with a JSON body and a Retry-After header. No eviction
// runs; prefer RateLimitWithCleanup for long-running servers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return limitMiddleware(newLimiter(cfg))
}

// RateLimitWithCleanup is RateLimit plus a background sweeper that evicts
// idle buckets once per window. The sweeper stops when ctx is cancelled.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go func() {
		ticker := time.NewTicker(cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.sweep(now)
			}
		}
	}()
	return limitMiddleware(l)
}

func limitMiddleware(l *limiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, remaining, wait := l.take(l.cfg.KeyFunc(r), time.Now())

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				retryAfter := int(wait/time.Second) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"code":    http.StatusTooManyRequests,
					"message": "rate limit exceeded",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP resolves the caller's address, preferring proxy headers over the
// raw peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
