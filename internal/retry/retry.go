// Package retry wraps remote calls with bounded exponential backoff. It is a
// pure control-flow decorator: the only side effects are the wrapped call's own.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds a retried call.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// BaseDelay seeds the exponential backoff: attempt n waits BaseDelay * 2^n.
	BaseDelay time.Duration
	// AttemptTimeout bounds each individual attempt. Zero means no per-attempt
	// deadline beyond the caller's context.
	AttemptTimeout time.Duration
}

// DefaultPolicy mirrors the conservative defaults the sync jobs use.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: 2 * time.Second, AttemptTimeout: 60 * time.Second}
}

// permanentError marks a failure that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do fails immediately without consuming retries.
// Use it for authentication failures and malformed requests, where repeating
// the call cannot help.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked non-retryable.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// ExhaustedError is returned when every attempt failed. It carries the label
// of the wrapped call for diagnostics and unwraps to the last underlying error.
type ExhaustedError struct {
	Label    string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", e.Label, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Do invokes fn, retrying transient failures with exponential backoff
// (BaseDelay * 2^attempt, uncapped beyond MaxRetries). Permanent failures and
// context cancellation abort immediately. The final failure is an
// *ExhaustedError tagged with label.
func Do[T any](ctx context.Context, policy Policy, label string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := policy.BaseDelay << (attempt - 1)
			if waitErr := sleep(ctx, delay); waitErr != nil {
				return zero, waitErr
			}
		}

		result, err := runAttempt(ctx, policy.AttemptTimeout, fn)
		if err == nil {
			return result, nil
		}
		if IsPermanent(err) {
			return zero, fmt.Errorf("%s: %w", label, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		lastErr = err
	}

	return zero, &ExhaustedError{
		Label:    label,
		Attempts: policy.MaxRetries + 1,
		Last:     lastErr,
	}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

// sleep blocks for d or until the context is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
