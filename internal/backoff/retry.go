package backoff

import (
	"context"
	"errors"
	"fmt"
)

// ErrAttemptsExhausted is returned when every bounded retry attempt failed.
var ErrAttemptsExhausted = errors.New("backoff: retry attempts exhausted")

// Permanent wraps an error to mark it as not retryable. Retry stops
// immediately and returns the wrapped error.
type Permanent struct {
	Err error
}

// Error implements the error interface.
func (p *Permanent) Error() string {
	return p.Err.Error()
}

// Unwrap returns the wrapped error.
func (p *Permanent) Unwrap() error {
	return p.Err
}

// MarkPermanent wraps err so Retry will not attempt it again. A nil err
// returns nil.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// Retry executes fn up to maxAttempts times, sleeping between failures per
// the policy. The first success wins. Permanent errors and context
// cancellation abort immediately. After the final failure the last error is
// returned wrapped in ErrAttemptsExhausted.
//
// fn receives the zero-indexed attempt number.
func Retry[T any](ctx context.Context, policy Policy, maxAttempts int, sleeper Sleeper, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if sleeper == nil {
		sleeper = RealSleeper()
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := fn(attempt)
		if err == nil {
			return value, nil
		}

		var perm *Permanent
		if errors.As(err, &perm) {
			return zero, perm.Err
		}
		lastErr = err

		if attempt < maxAttempts-1 {
			if err := sleeper.Sleep(ctx, policy.Delay(attempt)); err != nil {
				return zero, err
			}
		}
	}

	return zero, fmt.Errorf("%w: %w", ErrAttemptsExhausted, lastErr)
}
