// Package idempotency serializes work that shares an idempotency reference.
package idempotency

import (
	"context"
	"sync"
)

// Unlock releases a lock taken by Locker.Lock. Calling it more than once is
// a no-op.
type Unlock func()

// Locker grants exclusive access to a key. Lock blocks until the key is free
// or ctx is done.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// MemoryLocker is an in-process Locker. Each key owns a channel that is
// closed on release; waiters retry once it closes.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewMemoryLocker creates a new in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]chan struct{})}
}

// Lock takes the lock for key.
func (l *MemoryLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	for {
		l.mu.Lock()
		held, ok := l.locks[key]
		if !ok {
			released := make(chan struct{})
			l.locks[key] = released
			l.mu.Unlock()
			return l.release(key, released), nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-held:
		}
	}
}

func (l *MemoryLocker) release(key string, released chan struct{}) Unlock {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.locks, key)
			l.mu.Unlock()
			close(released)
		})
	}
}

// Held reports how many keys are currently locked.
func (l *MemoryLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

var _ Locker = (*MemoryLocker)(nil)
