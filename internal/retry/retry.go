// Package retry provides bounded retry with exponential backoff for
// transient failures. It carries no business logic: callers decide what
// to wrap and how to classify the final error.
package retry

import (
	"context"
	"time"
)

// Default parameters for tool-call retries.
const (
	DefaultAttempts  = 3
	DefaultBaseDelay = 50 * time.Millisecond
)

// Do runs op up to attempts times, sleeping baseDelay*2^n between tries.
// It returns the last error when every attempt fails, and stops early if
// ctx is cancelled during a backoff sleep.
func Do[T any](ctx context.Context, attempts int, baseDelay time.Duration, op func() (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		out, err := op()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if attempt == attempts-1 {
			break
		}
		delay := baseDelay * (1 << attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}
