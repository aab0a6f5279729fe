package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/HemantMali8233/Krishivishwa-Biotech/internal/platform/auth"
	"github.com/HemantMali8233/Krishivishwa-Biotech/internal/platform/httpx"
)

type rateLimiter interface {
	Allow(key string) bool
}

type simpleRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string]rateEntry
}

type rateEntry struct {
	count int
	reset time.Time
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &simpleRateLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]rateEntry),
	}
}

func (l *simpleRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok || now.After(entry.reset) {
		l.store[key] = rateEntry{count: 1, reset: now.Add(l.window)}
		l.pruneExpiredLocked(now)
		return true
	}

	if entry.count >= l.limit {
		return false
	}
	entry.count++
	l.store[key] = entry
	return true
}

func (l *simpleRateLimiter) pruneExpiredLocked(now time.Time) {
	if len(l.store) == 0 {
		return
	}
	for key, entry := range l.store {
		if now.After(entry.reset) {
			delete(l.store, key)
		}
	}
}

// RateLimitConfig controls the per-minute request budgets enforced by
// RateLimitMiddleware. Authenticated callers are keyed by UID, anonymous
// callers by client IP.
type RateLimitConfig struct {
	DefaultPerMinute       int
	AuthenticatedPerMinute int
	Clock                  func() time.Time
}

// RateLimitMiddleware enforces fixed-window request budgets. A nil return
// means limiting is disabled.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	anonymous := newSimpleRateLimiter(cfg.DefaultPerMinute, time.Minute, cfg.Clock)
	authenticated := newSimpleRateLimiter(cfg.AuthenticatedPerMinute, time.Minute, cfg.Clock)
	if anonymous == nil && authenticated == nil {
		return nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := anonymous
			key := clientAddr(r)
			if identity, ok := auth.IdentityFromContext(r.Context()); ok && strings.TrimSpace(identity.UID) != "" {
				if authenticated != nil {
					limiter = authenticated
				}
				key = identity.UID
			}
			if limiter != nil && !limiter.Allow(key) {
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "request rate limit exceeded", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
