// Package retry is the single retry policy applied to all three external
// collaborators (scanner, agent platform, verification feed). Call sites do
// not hand-roll their own backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
)

// Policy describes bounded exponential backoff with jitter.
type Policy struct {
	MaxAttempts uint64
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

// DefaultPolicy bounds transient collaborator failures: 4 attempts starting
// at 500ms with full jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    15 * time.Second,
		Jitter:      0.5,
	}
}

// Do runs op under the policy, stopping early when ctx is cancelled. The
// returned error is the last attempt's error once attempts are exhausted.
func (p Policy) Do(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.MaxInterval = p.MaxDelay
	bo.RandomizationFactor = p.Jitter
	bo.MaxElapsedTime = 0

	retries := p.MaxAttempts
	if retries > 0 {
		retries-- // MaxAttempts counts the first try, WithMaxRetries counts retries
	}

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx))
}

// Permanent marks an error as not worth retrying (e.g. a 4xx rejection from
// the agent platform).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
