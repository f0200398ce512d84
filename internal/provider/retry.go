package provider

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds transport-level retries with a fixed delay between
// attempts. Business errors from the provider are never retried.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy matches the provider's documented tolerance.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Second}
}

// ShouldRetry decides whether another attempt is allowed after err.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	return !errors.As(err, &apiErr)
}

// Backoff returns the wait before the next attempt.
func (p RetryPolicy) Backoff(int) time.Duration {
	return p.Delay
}

// sleep waits for d or until the context finishes.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
