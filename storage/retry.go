package storage

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry runs op with exponential backoff for transient backend
// failures. Wrap an error with Permanent to stop retrying, e.g. for
// not-found or malformed-payload conditions.
func Retry(ctx context.Context, maxRetries uint64, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = 10 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx))
}

// Permanent marks an error as non-retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
