// Package retry wraps exponential backoff for calls to collaborators that fail transiently.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds an exponential backoff
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// NewBackOff builds a context-aware exponential backoff for the policy
func (p Policy) NewBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = p.MaxElapsedTime
	return backoff.WithContext(b, ctx)
}

// Do runs op until it succeeds, returns a Permanent error, the policy gives up
// or ctx is done. notify, when set, sees every failed attempt.
func Do(ctx context.Context, p Policy, op func() error, notify func(err error, wait time.Duration)) error {
	if notify == nil {
		return backoff.Retry(op, p.NewBackOff(ctx))
	}
	return backoff.RetryNotify(op, p.NewBackOff(ctx), notify)
}

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	return backoff.Permanent(err)
}
