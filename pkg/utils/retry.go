package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
)

// RetryPolicy bounds exponential backoff for calls to remote services.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	out := p
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.InitialInterval <= 0 {
		out.InitialInterval = 200 * time.Millisecond
	}
	if out.MaxInterval <= 0 {
		out.MaxInterval = 2 * time.Second
	}
	if out.MaxElapsedTime <= 0 {
		out.MaxElapsedTime = 15 * time.Second
	}
	return out
}

// Permanent marks err as not worth retrying. Retry returns the unwrapped err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Retry runs op until it succeeds, returns a Permanent error, the retry budget
// is spent, or ctx is done. onRetry may be nil.
func Retry(ctx context.Context, p RetryPolicy, op func() error, onRetry func(err error, wait time.Duration)) error {
	p = p.withDefaults()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.MaxElapsedTime = p.MaxElapsedTime

	// WithMaxRetries treats 0 as unlimited, so a zero budget stops outright.
	var bounded backoff.BackOff = &backoff.StopBackOff{}
	if p.MaxRetries > 0 {
		bounded = backoff.WithMaxRetries(exp, uint64(p.MaxRetries))
	}
	b := backoff.WithContext(bounded, ctx)
	return backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return op()
	}, b, onRetry)
}
