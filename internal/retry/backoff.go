package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ExponentialBackoff returns base * 2^attempt, capped at limit when limit > 0.
func ExponentialBackoff(attempt int, base, limit time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := base * (1 << attempt)
	if limit > 0 && (d > limit || d < base) {
		return limit
	}
	return d
}

// Do runs fn until it succeeds, returns a Permanent error, ctx ends, or it has
// been retried retries times. The wait grows exponentially from base.
func Do(ctx context.Context, retries int, base time.Duration, fn func() error) error {
	if retries < 0 {
		retries = 0
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
	return backoff.Retry(fn, policy)
}

// Permanent marks err as not worth retrying. Do returns the unwrapped err.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
