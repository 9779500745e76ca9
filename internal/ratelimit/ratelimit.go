// Package ratelimit implements per-identity sliding-window admission over a
// Redis sorted set. One member per admitted request, scored by unix
// nanoseconds; the window slides by trimming members older than now-window.
package ratelimit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	gateway "github.com/eugener/smaug/internal"
)

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter makes sliding-window admission decisions.
type Limiter struct {
	rdb    redis.Cmdable
	limit  int64
	window time.Duration
	logger *slog.Logger
}

// New builds a limiter allowing limit requests per identity per window.
func New(rdb redis.Cmdable, limit int64, window time.Duration, logger *slog.Logger) *Limiter {
	return &Limiter{rdb: rdb, limit: limit, window: window, logger: logger}
}

// Allow decides admission for one identity. Redis failures admit the request:
// the ledger's own balance check is the authoritative backstop, so losing the
// limiter degrades throughput control, not correctness.
func (l *Limiter) Allow(ctx context.Context, identity string) Result {
	now := time.Now()
	windowStart := now.Add(-l.window)
	key := "ratelimit:" + identity

	var count *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
		count = pipe.ZCard(ctx, key)
		return nil
	})
	if err != nil {
		l.logger.WarnContext(ctx, "rate limiter unavailable, admitting request",
			"identity", identity, "error", err)
		return Result{Allowed: true, Limit: l.limit, Remaining: l.limit}
	}

	n := count.Val()
	if n >= l.limit {
		return Result{
			Allowed:    false,
			Limit:      l.limit,
			Remaining:  0,
			ResetAt:    now.Add(l.window),
			RetryAfter: l.window,
		}
	}

	_, err = l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(now.UnixNano()),
			Member: strconv.FormatInt(now.UnixNano(), 10),
		})
		pipe.Expire(ctx, key, l.window+time.Second)
		return nil
	})
	if err != nil {
		l.logger.WarnContext(ctx, "rate limiter record failed, admitting request",
			"identity", identity, "error", err)
		return Result{Allowed: true, Limit: l.limit, Remaining: l.limit}
	}

	return Result{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - n - 1,
		ResetAt:   now.Add(l.window),
	}
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Identity derives the rate-limit key for a request: the authenticated user
// id when present, the client address otherwise.
func Identity(r *http.Request) string {
	if id := gateway.IdentityFromContext(r.Context()); id != nil {
		return "user:" + strconv.FormatInt(id.UserID, 10)
	}
	return "ip:" + ClientIP(r)
}

// ClientIP returns the originating client address, honoring the first entry
// of X-Forwarded-For when present.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
