package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-storefront/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// windowScript increments the counter for KEYS[1] unless it already reached
// ARGV[1]. The key expires ARGV[2] ms after the first hit of its window.
// Returns {allowed, count, pttl}.
var windowScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
if count >= limit then
  return {0, count, redis.call("PTTL", KEYS[1])}
end
count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {1, count, redis.call("PTTL", KEYS[1])}
`)

// RedisWindow shares fixed-window counters across processes. Redis errors
// fail open: the request is allowed and the error is logged.
type RedisWindow struct {
	rdb   redis.Scripter
	limit int
	size  time.Duration
	now   func() time.Time
	log   *slog.Logger
}

func NewRedisWindow(rdb redis.Scripter, limit int, size time.Duration) *RedisWindow {
	return &RedisWindow{
		rdb:   rdb,
		limit: limit,
		size:  size,
		now:   time.Now,
		log:   slog.Default().With("component", "ratelimit"),
	}
}

func (w *RedisWindow) Allow(ctx context.Context, key string) (Result, error) {
	now := w.now()
	res, err := windowScript.Run(ctx, w.rdb, []string{fmt.Sprintf(redisx.KeyRateLimit, key)},
		w.limit, w.size.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 3 {
		w.log.Warn("rate limit check failed, allowing", "key", key, "error", err)
		return Result{Allowed: true, Limit: w.limit, Remaining: w.limit, ResetAt: now.Add(w.size)}, nil
	}

	count := int(res[1])
	ttl := time.Duration(res[2]) * time.Millisecond
	if ttl < 0 {
		ttl = w.size
	}
	rem := w.limit - count
	if rem < 0 {
		rem = 0
	}
	return Result{Allowed: res[0] == 1, Limit: w.limit, Remaining: rem, ResetAt: now.Add(ttl)}, nil
}
