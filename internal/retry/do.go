package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type options struct {
	sleeper Sleeper
	onRetry func(attempt int, err error, wait time.Duration)
}

// Option customises a Do call.
type Option func(*options)

// WithSleeper replaces the timer based sleeper.
func WithSleeper(s Sleeper) Option {
	return func(o *options) { o.sleeper = s }
}

// OnRetry registers a hook invoked before each retry wait.
func OnRetry(fn func(attempt int, err error, wait time.Duration)) Option {
	return func(o *options) { o.onRetry = fn }
}

// Do runs fn until it succeeds, returns a permanent error, the policy is
// exhausted, or ctx is canceled. attempt is 0 for the first call.
// The value of the last call is returned alongside any error.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error), opts ...Option) (T, error) {
	o := options{sleeper: TimerSleeper{}}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		val T
		err error
	)
	for attempt := 0; ; attempt++ {
		val, err = fn(ctx, attempt)
		if err == nil {
			return val, nil
		}
		if IsPermanent(err) {
			return val, err
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return val, err
		}
		if attempt >= p.MaxAttempts {
			return val, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt+1, err)
		}
		wait := p.Backoff(attempt + 1)
		if o.onRetry != nil {
			o.onRetry(attempt+1, err, wait)
		}
		if serr := o.sleeper.Sleep(ctx, wait); serr != nil {
			return val, serr
		}
	}
}
