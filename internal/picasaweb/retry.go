package picasaweb

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

const (
	// tokenAttempts is the number of token refresh tries before giving up.
	tokenAttempts = 3

	// baseDelay is the starting backoff interval (before jitter).
	baseDelay = time.Second

	// maxDelay caps the backoff interval.
	maxDelay = 8 * time.Second
)

// permanentError marks a failure that a retry cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that [Retry] returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry runs fn up to maxAttempts times with exponential backoff and jitter.
// Errors wrapped with [Permanent] stop the loop at once and are returned
// unwrapped.
func Retry(ctx context.Context, maxAttempts int, fn func() error) error {
	var lastErr error
	for attempt := range maxAttempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(backoffDelay(attempt)):
			}
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", maxAttempts, lastErr)
}

// backoffDelay is uniform in [d/2, d) where d doubles per attempt up to maxDelay.
func backoffDelay(attempt int) time.Duration {
	delay := min(baseDelay*(1<<attempt), maxDelay)
	jitter := time.Duration(rand.Int63n(int64(delay) / 2)) //nolint:gosec // jitter does not need crypto/rand
	return delay/2 + jitter
}
