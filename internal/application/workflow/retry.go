package workflow

import (
	"context"
	"errors"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	domainwf "github.com/portal-idjuv/casework/internal/domain/workflow"
)

// RetryPolicy bounds RetryOnConflict.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used when a caller has no configured policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

// RetryOnConflict re-runs fn while it fails with ErrConcurrentModification.
// fn must re-read the case and re-decide on every attempt. Any other error
// ends the loop immediately.
func RetryOnConflict(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		eb.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		eb.MaxInterval = policy.MaxInterval
	}
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = eb
	if policy.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(policy.MaxAttempts-1))
	}

	return backoff.Retry(func() error {
		err := fn(ctx)
		if err == nil || errors.Is(err, domainwf.ErrConcurrentModification) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
}
