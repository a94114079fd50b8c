// Package retry provides a shared retry utility with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration // zero = uncapped
}

// DefaultPolicy is used for audit persistence: a few quick attempts that
// stay well inside the shutdown drain window.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
}

// Do calls fn up to maxAttempts times with exponential backoff and jitter.
// It stops early if:
//   - fn returns nil (success)
//   - fn returns a *PermanentError (not retryable)
//   - ctx is cancelled
//
// baseDelay is doubled on each retry with +-25% jitter.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	return Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay}.Do(ctx, fn)
}

// Do runs fn under the policy.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	delay := p.BaseDelay

	for attempt := 0; attempt < attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}

		if attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(delay)):
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return err
}

// jittered returns d +-25%.
func jittered(d time.Duration) time.Duration {
	jitter := int64(d / 4)
	if jitter <= 0 {
		return d
	}
	return d - time.Duration(jitter) + time.Duration(rand.Int64N(2*jitter+1))
}
