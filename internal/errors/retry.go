package errors

import (
	"context"
	"time"
)

// RetryPolicy is an exponential backoff schedule for retryable AppErrors.
type RetryPolicy struct {
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultRetryPolicy waits 200ms, 400ms and 800ms between four attempts.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: 3,
	Initial:    100 * time.Millisecond,
	Max:        5 * time.Second,
	Multiplier: 2,
}

// WithRetry runs fn under DefaultRetryPolicy.
func WithRetry(ctx context.Context, fn func() error) error {
	return DefaultRetryPolicy.Do(ctx, fn)
}

// Do calls fn until it succeeds, fails with an error that is not
// retryable, or MaxRetries retries are spent. A context cancelled during
// a backoff returns fn's last error.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	if fn == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	delay := p.Initial
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !IsRetryable(err) || attempt >= p.MaxRetries {
			return err
		}

		delay = p.next(delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

// IsRetryable reports whether err is an AppError marked retryable.
func IsRetryable(err error) bool {
	appErr, ok := As(err)
	return ok && appErr.Retryable
}

func (p RetryPolicy) next(prev time.Duration) time.Duration {
	d := time.Duration(float64(prev) * p.Multiplier)
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}
