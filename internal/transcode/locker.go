package transcode

import (
	"context"
	"sync"
)

// Locker serialises the check-then-spawn critical section per base name so
// two near-simultaneous conversion requests for the same asset cannot both
// pass the idempotency check.
type Locker interface {
	// Acquire blocks until the key lock is held or ctx is done. The returned
	// release function must be called exactly once.
	Acquire(ctx context.Context, key string) (func(), error)
}

// memoryLocker is the in-process default, sufficient when a single instance
// owns the media root.
type memoryLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewMemoryLocker returns a per-key in-process lock.
func NewMemoryLocker() Locker {
	return &memoryLocker{slots: make(map[string]chan struct{})}
}

func (l *memoryLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
