// Package retry wraps transient operations with a bounded attempt counter
// and exponential backoff. Rate-limited vendors can request a specific wait
// by returning a RateLimitError; the wait is honored up to MaxDelay, and
// the attempt still counts against the bound.
package retry

import (
	"context"
	"errors"
	"time"

	"sourcebridge.dev/internal/logger"
)

// Policy controls retry behavior.
type Policy struct {
	MaxAttempts   int
	Delay         time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
}

// DefaultPolicy is used when a zero Policy is supplied.
var DefaultPolicy = Policy{
	MaxAttempts:   3,
	Delay:         time.Second,
	BackoffFactor: 2.0,
	MaxDelay:      2 * time.Minute,
}

// RateLimitError reports a vendor rate-limit response carrying a reset
// hint. Operations return it to request a specific wait before the next
// attempt.
type RateLimitError struct {
	ResetAfter time.Duration
}

func (e *RateLimitError) Error() string { return "rate limited" }

// Operation is one attempt of the wrapped call.
type Operation func(ctx context.Context) error

// Do runs op until it succeeds or the attempt bound is exhausted, sleeping
// between attempts. The context cancels waits immediately.
func Do(ctx context.Context, name string, policy Policy, op Operation) error {
	if policy.MaxAttempts <= 0 {
		policy = DefaultPolicy
	}
	l := logger.L().With("operation", name)

	delay := policy.Delay
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == policy.MaxAttempts {
			break
		}

		wait := delay
		var rl *RateLimitError
		if errors.As(lastErr, &rl) && rl.ResetAfter > 0 {
			wait = rl.ResetAfter
		}
		if policy.MaxDelay > 0 && wait > policy.MaxDelay {
			wait = policy.MaxDelay
		}
		l.Warn("operation failed, retrying", "attempt", attempt, "max_attempts", policy.MaxAttempts,
			"wait", wait.String(), "error", lastErr)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		if policy.BackoffFactor > 1 {
			delay = time.Duration(float64(delay) * policy.BackoffFactor)
		}
	}
	return lastErr
}
