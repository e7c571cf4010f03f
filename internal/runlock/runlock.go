package runlock

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/mozilla-iam/gsuite-cloud-users-driver/internal/errors"
)

// DefaultKey is the lock key shared by every trigger of the driver
const DefaultKey = "gsuite-cloud-users-driver:run"

// Locker serializes reconciliation runs. Acquire returns a
// RUN_IN_PROGRESS error when another holder owns key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
	Ping(ctx context.Context) error
}

func runInProgress(key string) *apperrors.AppError {
	return apperrors.NewError(apperrors.ErrRunInProgress, "a reconciliation run is already in progress").
		WithContext("lock", key)
}

// MemoryLocker is a process-local Locker
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewMemoryLocker creates an empty process-local locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Acquire takes key until release is called or ttl elapses
func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expires, ok := m.held[key]; ok && now.Before(expires) {
		return nil, runInProgress(key)
	}
	expires := now.Add(ttl)
	m.held[key] = expires

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			// a newer holder may own the key after our ttl lapsed
			if m.held[key].Equal(expires) {
				delete(m.held, key)
			}
		})
	}, nil
}

// Ping always succeeds
func (m *MemoryLocker) Ping(ctx context.Context) error {
	return nil
}

var (
	_ Locker = (*MemoryLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)
