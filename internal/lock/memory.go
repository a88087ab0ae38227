package lock

import (
	"context"
	"sync"
	"time"
)

type lease struct {
	token   string
	expires time.Time
}

// Memory is an in-process Locker for tests and single-binary development runs.
type Memory struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewMemory creates an empty in-memory locker.
func NewMemory() *Memory {
	return &Memory{leases: make(map[string]lease), now: time.Now}
}

// Acquire takes the named lease unless a live one exists.
func (m *Memory) Acquire(_ context.Context, name string, ttl time.Duration) (Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if cur, ok := m.leases[name]; ok && now.Before(cur.expires) {
		return nil, ErrHeld
	}
	token := NewToken()
	m.leases[name] = lease{token: token, expires: now.Add(ttl)}
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if cur, ok := m.leases[name]; ok && cur.token == token {
			delete(m.leases, name)
		}
		return nil
	}, nil
}
