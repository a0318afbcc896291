package middleware

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// rateKeyPrefix namespaces limiter windows in Valkey.
const rateKeyPrefix = "ratelimit:"

// ValkeyRateLimiter is a sliding-window limiter shared by every replica.
// Each window is a sorted set of request timestamps.
type ValkeyRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewValkeyRateLimiter creates a limiter that allows limit requests per window.
func NewValkeyRateLimiter(client *redis.Client, limit int, window time.Duration) *ValkeyRateLimiter {
	return &ValkeyRateLimiter{client: client, limit: limit, window: window, now: time.Now}
}

// Window implements Limiter.
func (vl *ValkeyRateLimiter) Window() time.Duration {
	return vl.window
}

// Allow implements Limiter. Valkey errors fail open: the limiter protects
// the service, it must not take it down.
func (vl *ValkeyRateLimiter) Allow(ctx context.Context, key string) bool {
	now := vl.now()
	k := rateKeyPrefix + key
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()[:8]

	pipe := vl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(now.Add(-vl.window).UnixNano(), 10))
	count := pipe.ZCard(ctx, k)
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.PExpire(ctx, k, vl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
		return true
	}

	if count.Val() >= int64(vl.limit) {
		// Denied requests do not consume a slot.
		if err := vl.client.ZRem(ctx, k, member).Err(); err != nil {
			slog.Warn("rate limiter cleanup failed", "key", key, "error", err)
		}
		return false
	}
	return true
}

var (
	_ Limiter = (*RateLimiter)(nil)
	_ Limiter = (*ValkeyRateLimiter)(nil)
)
