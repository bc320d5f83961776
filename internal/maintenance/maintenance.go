// Package maintenance holds the housekeeping scanners run from cron.
package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/okapigames/farpoint-backend/internal/clock"
	"github.com/okapigames/farpoint-backend/internal/locks"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/repos"
	"github.com/okapigames/farpoint-backend/internal/utils"
)

type Service struct {
	repos *repos.All
	clock *clock.Service
	locks locks.Manager
	log   *logger.Logger

	chipRetention time.Duration
}

func New(allRepos *repos.All, clk *clock.Service, lockMgr locks.Manager, log *logger.Logger) *Service {
	return &Service{
		repos:         allRepos,
		clock:         clk,
		locks:         lockMgr,
		log:           log.With("component", "maintenance"),
		chipRetention: time.Duration(utils.GetEnvAsInt("CHIP_RETENTION_MINUTES", 60, log)) * time.Minute,
	}
}

// VacuumChips deletes delivered chips past the retention window. Chips
// future-dated beyond the window survive until delivered.
func (m *Service) VacuumChips(ctx context.Context) error {
	err := locks.WithLock(ctx, m.locks, locks.LockVacuumOldChips, 0, func() error {
		cutoff := m.clock.Now().Add(-m.chipRetention)
		deleted, err := m.repos.Chips.VacuumOlderThan(ctx, nil, cutoff.UnixMicro())
		if err != nil {
			return err
		}
		if deleted > 0 {
			m.log.Info("Vacuumed old chips", "deleted", deleted)
		}
		return nil
	})
	if errors.Is(err, locks.ErrAlreadyLocked) {
		return nil
	}
	return err
}

// CleanupTargetMetadata removes metadata rows orphaned by target deletion.
func (m *Service) CleanupTargetMetadata(ctx context.Context) error {
	err := locks.WithLock(ctx, m.locks, locks.LockCleanupTargetMetadata, 0, func() error {
		deleted, err := m.repos.Targets.CleanupOrphanMetadata(ctx, nil)
		if err != nil {
			return err
		}
		if deleted > 0 {
			m.log.Info("Cleaned orphan target metadata", "deleted", deleted)
		}
		return nil
	})
	if errors.Is(err, locks.ErrAlreadyLocked) {
		return nil
	}
	return err
}
