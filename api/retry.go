package api

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// RetryOptions tunes Retry.  Delays double from MinDelay up to
// MaxDelay.
type RetryOptions struct {
	Retries   int
	MinDelay  time.Duration
	MaxDelay  time.Duration
	Retryable func(error) bool
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.MinDelay == 0 {
		o.MinDelay = time.Second
	}
	if o.MaxDelay < o.MinDelay {
		o.MaxDelay = max(time.Minute, o.MinDelay)
	}
	if o.Retryable == nil {
		o.Retryable = IsRetryable
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	return o
}

// policy is the backoff schedule for opts, bounded by ctx.
func (o RetryOptions) policy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.MinDelay
	b.MaxInterval = o.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(o.Retries)), ctx)
}

// Retry calls fn until it succeeds, returns an error opts.Retryable
// rejects, or has been retried opts.Retries times.  A cancelled ctx
// ends the wait with ctx.Err().
func Retry(ctx context.Context, opts RetryOptions, fn func() error) error {
	opts = opts.withDefaults()
	attempt := 0
	op := func() error {
		err := fn()
		if err != nil && !opts.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		attempt++
		log.Debugf("retry %d/%d in %v: %v", attempt, opts.Retries, d, err)
	}
	return backoff.RetryNotify(op, opts.policy(ctx), notify)
}
