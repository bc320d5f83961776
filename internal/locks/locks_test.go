package locks

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryManagerFailFast(t *testing.T) {
	m := NewMemoryManager()
	release, err := m.Acquire(context.Background(), LockRunDeferredActions, 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, err := m.Acquire(context.Background(), LockRunDeferredActions, 0); !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("held lock should fail fast, got %v", err)
	}
	// A different name is independent.
	other, err := m.Acquire(context.Background(), LockProcessEmailQueue, 0)
	if err != nil {
		t.Fatalf("independent lock: %v", err)
	}
	other()

	release()
	release2, err := m.Acquire(context.Background(), LockRunDeferredActions, 0)
	if err != nil {
		t.Fatalf("released lock should be acquirable, got %v", err)
	}
	release2()
}

func TestMemoryManagerWaitTimesOut(t *testing.T) {
	m := NewMemoryManager()
	release, err := m.Acquire(context.Background(), LockVacuumOldChips, 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	start := time.Now()
	_, err = m.Acquire(context.Background(), LockVacuumOldChips, 30*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatal("timeout returned before the wait elapsed")
	}
}

func TestMemoryManagerWaitSucceedsAfterRelease(t *testing.T) {
	m := NewMemoryManager()
	release, err := m.Acquire(context.Background(), LockVacuumOldChips, 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	release2, err := m.Acquire(context.Background(), LockVacuumOldChips, time.Second)
	if err != nil {
		t.Fatalf("waiter should win after release, got %v", err)
	}
	release2()
}

func TestMemoryManagerHonorsContext(t *testing.T) {
	m := NewMemoryManager()
	release, err := m.Acquire(context.Background(), LockVacuumOldChips, 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Acquire(ctx, LockVacuumOldChips, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled context should abort the wait, got %v", err)
	}
}

func TestWithLockReleasesOnError(t *testing.T) {
	m := NewMemoryManager()
	boom := errors.New("boom")
	if err := WithLock(context.Background(), m, LockCleanupTargetMetadata, 0, func() error {
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("fn error should propagate, got %v", err)
	}

	// The lock must be free again even though fn failed.
	release, err := m.Acquire(context.Background(), LockCleanupTargetMetadata, 0)
	if err != nil {
		t.Fatalf("lock should be released after a failed fn, got %v", err)
	}
	release()
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	m := NewMemoryManager()
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected the panic to propagate")
			}
		}()
		_ = WithLock(context.Background(), m, LockAlertDelayedRenderer, 0, func() error {
			panic("boom")
		})
	}()

	release, err := m.Acquire(context.Background(), LockAlertDelayedRenderer, 0)
	if err != nil {
		t.Fatalf("lock should be released after a panicking fn, got %v", err)
	}
	release()
}
