package httpx

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Limiter decides whether one more request for key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// WithRateLimit rejects requests over the limit with 429. When the limiter
// itself fails the request is let through if failOpen is set, else 503.
func WithRateLimit(l Limiter, logger *slog.Logger, failOpen bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), rateLimitKey(r))
			if err != nil {
				if logger != nil {
					logger.Warn("rate limiter error", "err", err)
				}
				if !failOpen {
					WriteError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
					return
				}
				ok = true
			}
			if !ok {
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MemoryLimiter is a per-process fixed-window limiter.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	count     int
	resetTime time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		visitors: map[string]*visitor{},
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v := l.visitors[key]
	if v == nil || now.After(v.resetTime) {
		if len(l.visitors) > 10000 {
			l.evictExpired(now)
		}
		l.visitors[key] = &visitor{count: 1, resetTime: now.Add(l.window)}
		return true, nil
	}
	if v.count >= l.limit {
		return false, nil
	}
	v.count++
	return true, nil
}

func (l *MemoryLimiter) evictExpired(now time.Time) {
	for k, v := range l.visitors {
		if now.After(v.resetTime) {
			delete(l.visitors, k)
		}
	}
}

// rateLimitKey prefers the authenticated user so that clients behind one NAT
// don't share a bucket.
func rateLimitKey(r *http.Request) string {
	if id, ok := IdentityFromContext(r.Context()); ok {
		return "user:" + id.UserID
	}
	return "ip:" + ClientIP(r)
}

func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		first, _, _ := strings.Cut(ip, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
