// Package retry provides exponential backoff for operations against flaky collaborators.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/deKupini/the-library/internal/clock"
)

type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
	MaxAttempts     int
}

// DefaultPolicy is tuned for publishing from inside a request: a handful of
// short waits, never more than a couple of seconds in total.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     1 * time.Second,
		Multiplier:      2.0,
		Jitter:          0.1,
		MaxAttempts:     3,
	}
}

func (p Policy) CalculateDelay(attempt int) time.Duration {
	delay := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(attempt-1))

	if delay > float64(p.MaxInterval) {
		delay = float64(p.MaxInterval)
	}

	if p.Jitter > 0 {
		jitterRange := delay * p.Jitter
		jitterOffset := (rand.Float64()*2 - 1) * jitterRange
		delay += jitterOffset
	}

	return time.Duration(delay)
}

// Permanent marks an error that must not be retried.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// Do calls fn until it succeeds, returns a *Permanent error, the context ends,
// or MaxAttempts calls have been made. The last error is returned.
func (p Policy) Do(ctx context.Context, clk clock.Clock, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		var perm *Permanent
		if errors.As(err, &perm) {
			return perm.Err
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-clk.After(p.CalculateDelay(attempt)):
		}
	}
	return err
}
