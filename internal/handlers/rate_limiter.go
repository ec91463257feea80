package handlers

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/threadline/orders-api/internal/platform/httpx"
	"github.com/threadline/orders-api/internal/repositories"
)

// RateLimiter throttles requests against a shared windowed counter so the
// limit holds across any number of stateless replicas.
type RateLimiter struct {
	counters repositories.CounterRepository
	window   time.Duration
	clock    func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// RateLimiterDeps bundles collaborators required to construct the limiter.
type RateLimiterDeps struct {
	Counters repositories.CounterRepository
	Window   time.Duration
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewRateLimiter constructs a RateLimiter over the given counter store.
func NewRateLimiter(deps RateLimiterDeps) *RateLimiter {
	if deps.Counters == nil {
		return nil
	}
	window := deps.Window
	if window <= 0 {
		window = time.Minute
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &RateLimiter{
		counters: deps.Counters,
		window:   window,
		clock:    clock,
		logger:   logger,
	}
}

// Middleware limits each client to `limit` requests per window under the
// given scope. A nil limiter or non-positive limit disables throttling. The
// limiter fails open when the counter store is unreachable.
func (l *RateLimiter) Middleware(scope string, limit int) func(http.Handler) http.Handler {
	if l == nil || limit <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = "default"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			now := l.clock().UTC()
			windowStart := now.Truncate(l.window)
			key := scope + ":" + clientKey(r)

			count, err := l.counters.Increment(ctx, key, windowStart)
			if err != nil {
				l.logger(ctx, "ratelimit.counter.failed", map[string]any{
					"scope": scope,
					"error": err.Error(),
				})
				next.ServeHTTP(w, r)
				return
			}

			if count > int64(limit) {
				httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests, retry later", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if addr == "" {
		return "anonymous"
	}
	return addr
}
