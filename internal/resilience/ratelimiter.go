// Package resilience protects the service and its collaborators from overload.
//
// This package uses:
//   - golang.org/x/time/rate: token bucket limiter for per-client request limits.
//   - github.com/sony/gobreaker: circuit breaker around the event publisher.
//   - github.com/redis/go-redis/v9: sliding-window limiter shared by all instances.
package resilience

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterConfig defines the rate limiting parameters.
//
// RequestsPerSecond controls the steady-state rate of allowed requests.
// BurstSize allows temporary spikes above the rate limit.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 20,
		BurstSize:         40,
	}
}

// RateLimiterManager maintains one token bucket per client key.
type RateLimiterManager struct {
	config   RateLimiterConfig
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

func NewRateLimiterManager(config RateLimiterConfig) *RateLimiterManager {
	return &RateLimiterManager{
		config:   config,
		limiters: make(map[string]*rate.Limiter),
	}
}

// GetLimiter returns the limiter for key, creating one if needed.
func (m *RateLimiterManager) GetLimiter(key string) *rate.Limiter {
	m.mu.RLock()
	limiter, exists := m.limiters[key]
	m.mu.RUnlock()

	if exists {
		return limiter
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if limiter, exists = m.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(m.config.RequestsPerSecond), m.config.BurstSize)
	m.limiters[key] = limiter
	return limiter
}

func (m *RateLimiterManager) Allow(key string) bool {
	return m.GetLimiter(key).Allow()
}

func (m *RateLimiterManager) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.limiters, key)
}

// Len reports how many client keys currently hold a limiter.
func (m *RateLimiterManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.limiters)
}
