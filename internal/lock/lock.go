// Package lock provides named run locks that keep two batch runs of the same
// job from overlapping.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrHeld reports that another run currently holds the lock.
var ErrHeld = errors.New("lock held by another run")

// Release gives the lock back. It is safe to call more than once.
type Release func(ctx context.Context) error

// Locker acquires named leases that expire after ttl.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Release, error)
}

// NewToken returns a random owner token.
func NewToken() string {
	return uuid.NewString()
}

// With runs fn while holding the named lock.
func With(ctx context.Context, l Locker, name string, ttl time.Duration, fn func(ctx context.Context) error) (err error) {
	release, err := l.Acquire(ctx, name, ttl)
	if err != nil {
		return fmt.Errorf("acquire lock %q: %w", name, err)
	}
	defer func() {
		// Release on a fresh context so a cancelled run still frees its lease.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := release(relCtx); rerr != nil && err == nil {
			err = fmt.Errorf("release lock %q: %w", name, rerr)
		}
	}()
	return fn(ctx)
}
