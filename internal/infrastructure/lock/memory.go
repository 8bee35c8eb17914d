package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ImageSync/internal/ports"
)

type memoryLock struct {
	owner     string
	expiresAt time.Time
}

// MemoryLocks is a process-local LockManager. It provides the same
// acquire/renew/release semantics as the durable backends but cannot
// coordinate across replicas; use it only for single-process runs and tests.
type MemoryLocks struct {
	mu    sync.Mutex
	locks map[int64]memoryLock
	now   func() time.Time
}

var _ ports.LockManager = (*MemoryLocks)(nil)

// NewMemoryLocks returns an empty in-memory lock table.
func NewMemoryLocks() *MemoryLocks {
	return &MemoryLocks{locks: make(map[int64]memoryLock), now: time.Now}
}

// Ping always succeeds; there is no backend to lose.
func (l *MemoryLocks) Ping(context.Context) error {
	return nil
}

// Acquire claims the item unless a non-expired lock exists.
func (l *MemoryLocks) Acquire(_ context.Context, itemID int64, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if held, ok := l.locks[itemID]; ok && held.expiresAt.After(l.now()) {
		return false, nil
	}
	l.locks[itemID] = memoryLock{owner: owner, expiresAt: l.now().Add(ttl)}
	return true, nil
}

// Renew extends the expiry while the caller still owns the lock.
func (l *MemoryLocks) Renew(_ context.Context, itemID int64, owner string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	held, ok := l.locks[itemID]
	if !ok || held.owner != owner || !held.expiresAt.After(l.now()) {
		return fmt.Errorf("renew lock %d: %w", itemID, ErrNotHeld)
	}
	held.expiresAt = l.now().Add(ttl)
	l.locks[itemID] = held
	return nil
}

// Release removes the lock if the owner matches.
func (l *MemoryLocks) Release(_ context.Context, itemID int64, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if held, ok := l.locks[itemID]; ok && held.owner == owner {
		delete(l.locks, itemID)
	}
	return nil
}

// Held reports whether a non-expired lock exists for the item. Test helper.
func (l *MemoryLocks) Held(itemID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	held, ok := l.locks[itemID]
	return ok && held.expiresAt.After(l.now())
}
