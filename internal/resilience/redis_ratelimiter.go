package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter implements distributed rate limiting using Redis sorted sets.
// Each request is stored as a member scored by its timestamp, so every API
// instance sees the same window for a client.
//
// Algorithm:
//  1. Remove entries older than the window
//  2. Count remaining entries
//  3. If count < limit, add new entry and allow
//  4. Otherwise, reject
//
// All operations are atomic using a Lua script.
type RedisRateLimiter struct {
	client   *redis.Client
	window   time.Duration
	limit    int
	fallback *RateLimiterManager
	logger   *slog.Logger
}

type RedisRateLimiterConfig struct {
	Window time.Duration // Sliding window size (default: 1 second)
	Limit  int           // Requests allowed per window
}

func DefaultRedisRateLimiterConfig() RedisRateLimiterConfig {
	return RedisRateLimiterConfig{
		Window: time.Second,
		Limit:  20,
	}
}

// NewRedisRateLimiter creates a new Redis-backed rate limiter.
// Falls back to in-memory rate limiting when Redis is unavailable.
func NewRedisRateLimiter(client *redis.Client, config RedisRateLimiterConfig, logger *slog.Logger) *RedisRateLimiter {
	if config.Window == 0 {
		config.Window = time.Second
	}
	if config.Limit <= 0 {
		config.Limit = DefaultRedisRateLimiterConfig().Limit
	}
	if logger == nil {
		logger = slog.Default()
	}

	perSecond := float64(config.Limit) / config.Window.Seconds()
	return &RedisRateLimiter{
		client: client,
		window: config.Window,
		limit:  config.Limit,
		fallback: NewRateLimiterManager(RateLimiterConfig{
			RequestsPerSecond: perSecond,
			BurstSize:         config.Limit,
		}),
		logger: logger,
	}
}

// rateLimitScript returns 1 if allowed, 0 if rate limited.
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, window)
    return 1
else
    return 0
end
`)

// Allow checks if a request from key is allowed.
// Falls back to in-memory rate limiting if Redis is unavailable.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("ratelimit:%s", key)
	now := time.Now()
	member := fmt.Sprintf("%d:%d", now.UnixMilli(), now.UnixNano()%1000000)

	result, err := rateLimitScript.Run(ctx, r.client, []string{redisKey}, now.UnixMilli(), r.window.Milliseconds(), r.limit, member).Int()
	if err != nil {
		r.logger.Warn("redis rate limiter failed, using fallback",
			"error", err,
			"client", key,
		)
		return r.fallback.Allow(key), nil
	}

	return result == 1, nil
}
