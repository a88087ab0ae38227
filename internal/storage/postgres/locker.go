package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/kizashi/subsidy-radar/internal/lock"
)

// Locker implements lock.Locker with lease rows in job_locks.
type Locker struct {
	pool pool
}

var _ lock.Locker = (*Locker)(nil)

// Locker returns a lease-row locker sharing the store's pool.
func (s *Store) Locker() *Locker {
	return &Locker{pool: s.pool}
}

// Acquire inserts the lease row or takes over an expired one.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (lock.Release, error) {
	token := lock.NewToken()
	tag, err := l.pool.Exec(ctx, `
INSERT INTO job_locks (name, token, acquired_at, expires_at)
VALUES ($1, $2, now(), now() + make_interval(secs => $3))
ON CONFLICT (name) DO UPDATE SET
	token = EXCLUDED.token,
	acquired_at = EXCLUDED.acquired_at,
	expires_at = EXCLUDED.expires_at
WHERE job_locks.expires_at < now()`, name, token, ttl.Seconds())
	if err != nil {
		return nil, fmt.Errorf("acquire job lock %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, lock.ErrHeld
	}
	return func(ctx context.Context) error {
		if _, err := l.pool.Exec(ctx, `DELETE FROM job_locks WHERE name = $1 AND token = $2`, name, token); err != nil {
			return fmt.Errorf("release job lock %s: %w", name, err)
		}
		return nil
	}, nil
}
