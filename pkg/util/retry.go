package util

import (
	"context"
	"time"
)

// RetryPolicy bounds a retry loop: waits start at Initial, double on
// every failure up to Max, and the whole loop gives up once Budget has
// elapsed.
type RetryPolicy struct {
	Budget  time.Duration
	Initial time.Duration
	Max     time.Duration
}

// Retry runs fn until it succeeds, the policy budget is exhausted, or
// ctx is done. The last error is returned.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	deadline := time.Now().Add(policy.Budget)
	wait := policy.Initial

	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if time.Now().Add(wait).After(deadline) {
			return err
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return err
		}

		wait *= 2
		if wait > policy.Max {
			wait = policy.Max
		}
	}
}
