package query

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/i474232898/weather-dashboard/internal/weather"
)

// RetryPolicy controls how a cache retries failed fetches. Attempts are spaced
// by exponential backoff starting at InitialInterval and capped at MaxInterval.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first one.
	// Values below 1 are treated as 1.
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// Retryable decides whether an error is worth another attempt. Nil means
	// weather.IsTransient: network failures and 5xx responses.
	Retryable func(error) bool
}

// DefaultRetryPolicy retries transient failures three times (four attempts in
// total) starting at one second and never waiting more than thirty.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
	}
}

// NoRetry is a policy that gives up after the first failure.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, InitialInterval: time.Millisecond}
}

func (p RetryPolicy) attempts() uint {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return weather.IsTransient(err)
}

// runWithRetry calls fn until it succeeds, fails with a non-retryable error,
// runs out of attempts or ctx is done. The last error is returned as is so
// callers can still classify it with errors.As.
func runWithRetry[V any](
	ctx context.Context,
	p RetryPolicy,
	fn func(ctx context.Context) (V, error),
	onRetry func(attempt uint, err error),
) (V, error) {
	initial := p.InitialInterval
	if initial <= 0 {
		initial = time.Millisecond
	}

	return retry.DoWithData(
		func() (V, error) {
			return fn(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(p.attempts()),
		retry.Delay(initial),
		retry.MaxDelay(p.MaxInterval),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(p.retryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			if onRetry != nil {
				onRetry(n+1, err)
			}
		}),
	)
}
