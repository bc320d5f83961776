package locks

import (
	"context"
	"errors"
	"time"
)

// Named process-wide locks serializing the cron-style scanners. Two modes:
// wait up to T (ErrLockTimeout on failure) or fail fast (ErrAlreadyLocked).

var (
	ErrLockTimeout   = errors.New("lock acquisition timed out")
	ErrAlreadyLocked = errors.New("lock already held")
)

// Lock names held by the periodic scanners, each in fail-fast mode so
// overlapping runs are safe.
const (
	LockRunDeferredActions        = "RUN_DEFERRED_ACTIONS"
	LockProcessEmailQueue         = "PROCESS_EMAIL_QUEUE"
	LockSendNotificationsActivity = "SEND_NOTIFICATIONS_ACTIVITY"
	LockSendNotificationsLure     = "SEND_NOTIFICATIONS_LURE"
	LockCleanupTargetMetadata     = "CLEANUP_TARGET_METADATA"
	LockVacuumOldChips            = "VACUUM_OLD_CHIP"
	LockAlertDelayedRenderer      = "ALERT_DELAYED_RENDERER"
)

type Release func()

type Manager interface {
	// Acquire takes the named lock. wait == 0 fails fast with
	// ErrAlreadyLocked; wait > 0 polls up to wait and fails with
	// ErrLockTimeout.
	Acquire(ctx context.Context, name string, wait time.Duration) (Release, error)
}

// WithLock runs fn under the named lock and releases it on every exit path,
// including panics.
func WithLock(ctx context.Context, m Manager, name string, wait time.Duration, fn func() error) error {
	release, err := m.Acquire(ctx, name, wait)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}
