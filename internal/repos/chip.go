package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/types"
)

type ChipRepo interface {
	// Append writes buffered chips in emission order within the current
	// transaction.
	Append(ctx context.Context, tx *gorm.DB, chips []*types.Chip) error
	// FetchSince returns chips with time_us > since whose deliver_at is
	// unset or has passed, in (time_us, seq) order.
	FetchSince(ctx context.Context, tx *gorm.DB, userID uuid.UUID, sinceUS, nowUS int64) ([]*types.Chip, error)
	VacuumOlderThan(ctx context.Context, tx *gorm.DB, cutoffUS int64) (int64, error)
}

type chipRepo struct{ base }

func NewChipRepo(db *gorm.DB, baseLog *logger.Logger) ChipRepo {
	return &chipRepo{base{db: db, log: baseLog.With("repo", "ChipRepo")}}
}

func (r *chipRepo) Append(ctx context.Context, tx *gorm.DB, chips []*types.Chip) error {
	if len(chips) == 0 {
		return nil
	}
	// One row at a time keeps seq assignment in emission order.
	h := r.h(tx).WithContext(ctx)
	for _, chip := range chips {
		if err := h.Create(chip).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *chipRepo) FetchSince(ctx context.Context, tx *gorm.DB, userID uuid.UUID, sinceUS, nowUS int64) ([]*types.Chip, error) {
	var out []*types.Chip
	err := r.h(tx).WithContext(ctx).
		Where("user_id = ? AND time_us > ?", userID, sinceUS).
		Where("deliver_at_us IS NULL OR deliver_at_us <= ?", nowUS).
		Order("time_us ASC, seq ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chipRepo) VacuumOlderThan(ctx context.Context, tx *gorm.DB, cutoffUS int64) (int64, error) {
	// Future-dated chips are kept until delivered regardless of age.
	res := r.h(tx).WithContext(ctx).
		Where("time_us < ? AND (deliver_at_us IS NULL OR deliver_at_us < ?)", cutoffUS, cutoffUS).
		Delete(&types.Chip{})
	return res.RowsAffected, res.Error
}
