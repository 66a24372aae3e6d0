// Package resilience provides retry and circuit breaker support for calls
// to external services.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy controls retry behavior. The zero value is usable; missing fields
// fall back to the defaults documented on each field.
type Policy struct {
	// Attempts is the total number of tries including the first. Default 3.
	Attempts int

	// BaseDelay is the backoff before the first retry. Default 500ms.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Default 30s.
	MaxDelay time.Duration

	// Multiplier scales the backoff after each failed attempt. Default 2.
	Multiplier float64

	// Jitter is the random fraction applied to each delay (0.25 means
	// up to ±25%). Default 0.25 when left zero; set negative to disable.
	Jitter float64

	// Retryable overrides the default IsTransient check when non-nil.
	Retryable func(err error) bool
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2
	}
	if p.Jitter == 0 {
		p.Jitter = 0.25
	}
	return p
}

func (p Policy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * p.Jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// RetryVal runs op under the policy, returning the value from the first
// successful attempt. Only transient errors are retried; context
// cancellation stops retries immediately.
func RetryVal[T any](ctx context.Context, service string, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		val, err := op(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) || attempt == p.Attempts-1 {
			break
		}

		zap.L().Warn("retrying after transient error",
			zap.String("service", service),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		timer := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}

// Retry is RetryVal for operations with no return value.
func Retry(ctx context.Context, service string, p Policy, op func(ctx context.Context) error) error {
	_, err := RetryVal(ctx, service, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
