package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kozaktomas/face-finder/internal/constants"
)

// RetryPolicy runs an operation up to MaxAttempts times with a fixed Delay
// between attempts. Errors for which Retryable returns false end the loop
// immediately.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Retryable   func(error) bool
}

// DefaultRetryPolicy is three attempts two seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: constants.UploadMaxAttempts, Delay: constants.UploadRetryDelay}
}

// Do calls op until it succeeds, the attempts are spent, the error is not
// retryable or ctx is done. Each attempt gets a fresh op call; ctx only gates
// scheduling of the next attempt. It returns the number of attempts made and
// the last error seen.
func (p RetryPolicy) Do(ctx context.Context, op func() error, notify func(attempt int, err error, wait time.Duration)) (int, error) {
	maxAttempts := max(1, p.MaxAttempts)
	delay := max(0, p.Delay)

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(maxAttempts-1)),
		ctx,
	)

	attempts := 0
	var lastErr error
	err := backoff.RetryNotify(func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		if notify != nil {
			notify(attempts, err, wait)
		}
	})

	if err != nil && lastErr != nil {
		// cancellation surfaces as ctx.Err(); the attempt error is what matters
		return attempts, lastErr
	}
	return attempts, err
}
