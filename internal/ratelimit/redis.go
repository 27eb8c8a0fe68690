// Package ratelimit implements the per-tenant request limiter guarding
// the ingest endpoint: a Redis-backed counter when RATE_LIMIT_REDIS_URL
// is configured, falling back to an in-process counter otherwise.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"evalpipe/internal/domain"
)

// tenantWindowLimiter throttles by the "tenant:<id>" keys
// rateLimitMiddleware builds, sharing counters across every ingestd
// replica pointed at the same Redis instance.
type tenantWindowLimiter struct {
	client *redis.Client
	now    func() time.Time
}

// incrAndExpire is a single fixed-window step: bump the tenant's counter,
// arm its expiry on the first hit of the window, and report both the new
// count and the window's remaining TTL so Allow can derive ResetAt
// without a second round trip.
var incrAndExpire = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// NewRedisLimiter builds a fixed-window tenant rate limiter against the
// Redis instance addr points at (a redis:// URL or a bare host:port).
func NewRedisLimiter(addr string) (domain.RateLimiter, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	return &tenantWindowLimiter{client: redis.NewClient(opts), now: time.Now}, nil
}

func (r *tenantWindowLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	windowMillis := window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = 1000
	}
	result, err := incrAndExpire.Run(ctx, r.client, []string{key}, windowMillis).Result()
	if err != nil {
		return domain.RateLimitDecision{}, err
	}
	values, ok := result.([]any)
	if !ok || len(values) < 2 {
		return domain.RateLimitDecision{}, errors.New("unexpected redis rate limit response")
	}
	current, ok := values[0].(int64)
	if !ok {
		return domain.RateLimitDecision{}, errors.New("invalid redis counter response")
	}
	ttlMillis, _ := values[1].(int64)
	resetAt := r.now()
	if ttlMillis > 0 {
		resetAt = resetAt.Add(time.Duration(ttlMillis) * time.Millisecond)
	}
	remaining := limit - int(current)
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   current <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
