package locks

import (
	"context"
	"errors"
	"sync"
)

// ErrLockLost is the cancellation cause of work whose advisory lock could not
// be extended.
var ErrLockLost = errors.New("advisory lock lost")

// AdvisoryLock is a non-blocking lock keyed by job name. TryAcquire returns
// false when another holder has the key. Extend renews a held lock and
// returns false once the caller no longer holds it.
type AdvisoryLock interface {
	TryAcquire(ctx context.Context, key string) (bool, error)
	Extend(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// MemoryAdvisoryLock is an AdvisoryLock for a single instance and for tests.
type MemoryAdvisoryLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ AdvisoryLock = (*MemoryAdvisoryLock)(nil)

// NewMemoryAdvisoryLock returns an empty in-memory advisory lock.
func NewMemoryAdvisoryLock() *MemoryAdvisoryLock {
	return &MemoryAdvisoryLock{held: make(map[string]struct{})}
}

// TryAcquire takes key if nobody holds it.
func (m *MemoryAdvisoryLock) TryAcquire(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return false, nil
	}
	m.held[key] = struct{}{}
	return true, nil
}

// Extend reports whether key is still held. In-memory locks do not expire.
func (m *MemoryAdvisoryLock) Extend(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok, nil
}

// Release frees key.
func (m *MemoryAdvisoryLock) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	return nil
}
