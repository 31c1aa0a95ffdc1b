package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned without calling the protected function while
// the breaker is open or the half-open probe quota is used up.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreakerConfig defines the circuit breaker behavior.
//
// MaxRequests is the maximum number of requests allowed in half-open state.
// Interval is the cyclic period for clearing internal counts while closed.
// Timeout is how long to wait in open state before transitioning to half-open.
// FailureRatio is the failure percentage threshold to trip the breaker (0.0-1.0).
// MinRequests is the minimum requests needed before failure ratio is evaluated.
type CircuitBreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      15 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

type CircuitBreakerState string

const (
	CircuitBreakerStateClosed   CircuitBreakerState = "closed"
	CircuitBreakerStateOpen     CircuitBreakerState = "open"
	CircuitBreakerStateHalfOpen CircuitBreakerState = "half-open"
)

// Gauge maps the state to the value exported as circuit_breaker_state.
func (s CircuitBreakerState) Gauge() float64 {
	switch s {
	case CircuitBreakerStateHalfOpen:
		return 1
	case CircuitBreakerStateOpen:
		return 2
	default:
		return 0
	}
}

// CircuitBreakerManager keeps one breaker per protected dependency name.
type CircuitBreakerManager struct {
	config   CircuitBreakerConfig
	breakers map[string]*gobreaker.CircuitBreaker
	mu       sync.RWMutex

	onStateChange func(name string, from, to CircuitBreakerState)
}

func NewCircuitBreakerManager(config CircuitBreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		config:   config,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// OnStateChange registers a callback for state transitions. Register it
// before the first Execute; breakers capture it when they are created.
func (m *CircuitBreakerManager) OnStateChange(fn func(name string, from, to CircuitBreakerState)) {
	m.onStateChange = fn
}

func (m *CircuitBreakerManager) GetBreaker(name string) *gobreaker.CircuitBreaker {
	m.mu.RLock()
	cb, exists := m.breakers[name]
	m.mu.RUnlock()

	if exists {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, exists = m.breakers[name]; exists {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: m.config.MaxRequests,
		Interval:    m.config.Interval,
		Timeout:     m.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < m.config.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= m.config.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if m.onStateChange != nil {
				m.onStateChange(name, toState(from), toState(to))
			}
		},
	}

	cb = gobreaker.NewCircuitBreaker(settings)
	m.breakers[name] = cb
	return cb
}

// Execute runs fn through the named breaker. Rejections are reported as
// ErrCircuitOpen; failures from fn count toward the trip threshold.
func (m *CircuitBreakerManager) Execute(name string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := m.GetBreaker(name).Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return result, err
}

func (m *CircuitBreakerManager) State(name string) CircuitBreakerState {
	return toState(m.GetBreaker(name).State())
}

func (m *CircuitBreakerManager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, name)
}

func toState(s gobreaker.State) CircuitBreakerState {
	switch s {
	case gobreaker.StateClosed:
		return CircuitBreakerStateClosed
	case gobreaker.StateOpen:
		return CircuitBreakerStateOpen
	case gobreaker.StateHalfOpen:
		return CircuitBreakerStateHalfOpen
	default:
		return CircuitBreakerStateClosed
	}
}
