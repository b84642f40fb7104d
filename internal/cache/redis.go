// Package cache holds the summary cache and the per-caller rate limiter used
// to gate generative summaries. Both come in an in-process and a redis flavor.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

const (
	DefaultSummaryTTL = time.Hour
	DefaultRateLimit  = 10
	DefaultRateWindow = time.Minute
)

type RedisSummaryCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewRedisSummaryCache(client *redisv9.Client, ttl time.Duration) *RedisSummaryCache {
	if ttl <= 0 {
		ttl = DefaultSummaryTTL
	}
	return &RedisSummaryCache{client: client, ttl: ttl}
}

func (c *RedisSummaryCache) Get(ctx context.Context, key string) (string, bool, error) {
	raw, err := c.client.Get(ctx, c.summaryKey(key)).Result()
	if errors.Is(err, redisv9.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get summary failed: %w", err)
	}
	return raw, true, nil
}

func (c *RedisSummaryCache) Set(ctx context.Context, key, value string) error {
	if err := c.client.Set(ctx, c.summaryKey(key), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set summary failed: %w", err)
	}
	return nil
}

func (c *RedisSummaryCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.summaryKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete summary failed: %w", err)
	}
	return nil
}

func (c *RedisSummaryCache) summaryKey(key string) string {
	return "docqa:summary:" + key
}

// slidingWindowScript trims the caller's window, then records the request
// only if the window still has room. Returns 1 when allowed.
var slidingWindowScript = redisv9.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// RedisRateLimiter is a sliding-window limiter backed by one sorted set per
// caller, shared by every process pointing at the same redis.
type RedisRateLimiter struct {
	client *redisv9.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisRateLimiter(client *redisv9.Client, limit int, window time.Duration) *RedisRateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RedisRateLimiter{client: client, limit: limit, window: window, now: time.Now}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, caller string) (bool, error) {
	now := l.now()
	nowMicros := now.UnixMicro()
	cutoff := now.Add(-l.window).UnixMicro()
	member := strconv.FormatInt(now.UnixNano(), 10)

	res, err := slidingWindowScript.Run(ctx, l.client, []string{l.rateKey(caller)},
		cutoff, nowMicros, l.limit, member, l.window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis rate limit check failed: %w", err)
	}
	return res == 1, nil
}

func (l *RedisRateLimiter) rateKey(caller string) string {
	return "docqa:ratelimit:" + caller
}
