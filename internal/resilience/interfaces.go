package resilience

import "context"

// RateLimiter decides whether a request from a client may proceed.
// Implemented in memory and on Redis.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// InMemoryRateLimiter adapts RateLimiterManager to the RateLimiter interface.
type InMemoryRateLimiter struct {
	manager *RateLimiterManager
}

func NewInMemoryRateLimiter(config RateLimiterConfig) *InMemoryRateLimiter {
	return &InMemoryRateLimiter{
		manager: NewRateLimiterManager(config),
	}
}

func (a *InMemoryRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return a.manager.Allow(key), nil
}
