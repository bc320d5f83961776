package locks

import (
	"context"
	"sync"
	"time"
)

// memoryManager is the in-process implementation used by tests and by the
// ECHO email mode's single-binary development setup.
type memoryManager struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemoryManager() Manager {
	return &memoryManager{held: make(map[string]bool)}
}

func (m *memoryManager) tryAcquire(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[name] {
		return false
	}
	m.held[name] = true
	return true
}

func (m *memoryManager) release(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, name)
}

func (m *memoryManager) Acquire(ctx context.Context, name string, wait time.Duration) (Release, error) {
	if m.tryAcquire(name) {
		return func() { m.release(name) }, nil
	}
	if wait <= 0 {
		return nil, ErrAlreadyLocked
	}
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if m.tryAcquire(name) {
				return func() { m.release(name) }, nil
			}
			if time.Now().After(deadline) {
				return nil, ErrLockTimeout
			}
		}
	}
}
