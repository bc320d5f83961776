package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/types"
)

// The per-collection repos below all follow the same shape: Create,
// ListByUser in a stable order, UpdateFields by id.

type MissionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.Mission) (*types.Mission, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Mission, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type missionRepo struct{ base }

func NewMissionRepo(db *gorm.DB, baseLog *logger.Logger) MissionRepo {
	return &missionRepo{base{db: db, log: baseLog.With("repo", "MissionRepo")}}
}

func (r *missionRepo) Create(ctx context.Context, tx *gorm.DB, row *types.Mission) (*types.Mission, error) {
	if err := r.h(tx).WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *missionRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Mission, error) {
	var out []*types.Mission
	if err := r.h(tx).WithContext(ctx).Where("user_id = ?", userID).Order("sort ASC, started_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *missionRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return r.h(tx).WithContext(ctx).Model(&types.Mission{}).Where("id = ?", id).Updates(updates).Error
}

type MessageRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.Message) (*types.Message, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Message, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type messageRepo struct{ base }

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return &messageRepo{base{db: db, log: baseLog.With("repo", "MessageRepo")}}
}

func (r *messageRepo) Create(ctx context.Context, tx *gorm.DB, row *types.Message) (*types.Message, error) {
	if err := r.h(tx).WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *messageRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Message, error) {
	var out []*types.Message
	if err := r.h(tx).WithContext(ctx).Where("user_id = ?", userID).Order("sent_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *messageRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return r.h(tx).WithContext(ctx).Model(&types.Message{}).Where("id = ?", id).Updates(updates).Error
}

type SpeciesRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.SpeciesRecord) (*types.SpeciesRecord, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.SpeciesRecord, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type speciesRepo struct{ base }

func NewSpeciesRepo(db *gorm.DB, baseLog *logger.Logger) SpeciesRepo {
	return &speciesRepo{base{db: db, log: baseLog.With("repo", "SpeciesRepo")}}
}

func (r *speciesRepo) Create(ctx context.Context, tx *gorm.DB, row *types.SpeciesRecord) (*types.SpeciesRecord, error) {
	if err := r.h(tx).WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *speciesRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.SpeciesRecord, error) {
	var out []*types.SpeciesRecord
	if err := r.h(tx).WithContext(ctx).Where("user_id = ?", userID).Order("detected_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *speciesRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return r.h(tx).WithContext(ctx).Model(&types.SpeciesRecord{}).Where("id = ?", id).Updates(updates).Error
}

type AchievementRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.Achievement) (*types.Achievement, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Achievement, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type achievementRepo struct{ base }

func NewAchievementRepo(db *gorm.DB, baseLog *logger.Logger) AchievementRepo {
	return &achievementRepo{base{db: db, log: baseLog.With("repo", "AchievementRepo")}}
}

func (r *achievementRepo) Create(ctx context.Context, tx *gorm.DB, row *types.Achievement) (*types.Achievement, error) {
	if err := r.h(tx).WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *achievementRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Achievement, error) {
	var out []*types.Achievement
	if err := r.h(tx).WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *achievementRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return r.h(tx).WithContext(ctx).Model(&types.Achievement{}).Where("id = ?", id).Updates(updates).Error
}

type CapabilityRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.Capability) (*types.Capability, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Capability, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type capabilityRepo struct{ base }

func NewCapabilityRepo(db *gorm.DB, baseLog *logger.Logger) CapabilityRepo {
	return &capabilityRepo{base{db: db, log: baseLog.With("repo", "CapabilityRepo")}}
}

func (r *capabilityRepo) Create(ctx context.Context, tx *gorm.DB, row *types.Capability) (*types.Capability, error) {
	if err := r.h(tx).WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *capabilityRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Capability, error) {
	var out []*types.Capability
	if err := r.h(tx).WithContext(ctx).Where("user_id = ?", userID).Order("capability_key ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *capabilityRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return r.h(tx).WithContext(ctx).Model(&types.Capability{}).Where("id = ?", id).Updates(updates).Error
}

type VoucherRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.Voucher) (*types.Voucher, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Voucher, error)
}

type voucherRepo struct{ base }

func NewVoucherRepo(db *gorm.DB, baseLog *logger.Logger) VoucherRepo {
	return &voucherRepo{base{db: db, log: baseLog.With("repo", "VoucherRepo")}}
}

func (r *voucherRepo) Create(ctx context.Context, tx *gorm.DB, row *types.Voucher) (*types.Voucher, error) {
	if err := r.h(tx).WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *voucherRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Voucher, error) {
	var out []*types.Voucher
	if err := r.h(tx).WithContext(ctx).Where("user_id = ?", userID).Order("delivered_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

type ProgressRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.ProgressKey) (*types.ProgressKey, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.ProgressKey, error)
	DeleteByKey(ctx context.Context, tx *gorm.DB, userID uuid.UUID, key string) (int64, error)
}

type progressRepo struct{ base }

func NewProgressRepo(db *gorm.DB, baseLog *logger.Logger) ProgressRepo {
	return &progressRepo{base{db: db, log: baseLog.With("repo", "ProgressRepo")}}
}

func (r *progressRepo) Create(ctx context.Context, tx *gorm.DB, row *types.ProgressKey) (*types.ProgressKey, error) {
	if err := r.h(tx).WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *progressRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.ProgressKey, error) {
	var out []*types.ProgressKey
	if err := r.h(tx).WithContext(ctx).Where("user_id = ?", userID).Order("achieved_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *progressRepo) DeleteByKey(ctx context.Context, tx *gorm.DB, userID uuid.UUID, key string) (int64, error) {
	res := r.h(tx).WithContext(ctx).Where("user_id = ? AND key = ?", userID, key).Delete(&types.ProgressKey{})
	return res.RowsAffected, res.Error
}

type UserRegionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.UserRegion) (*types.UserRegion, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.UserRegion, error)
}

type userRegionRepo struct{ base }

func NewUserRegionRepo(db *gorm.DB, baseLog *logger.Logger) UserRegionRepo {
	return &userRegionRepo{base{db: db, log: baseLog.With("repo", "UserRegionRepo")}}
}

func (r *userRegionRepo) Create(ctx context.Context, tx *gorm.DB, row *types.UserRegion) (*types.UserRegion, error) {
	if err := r.h(tx).WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *userRegionRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.UserRegion, error) {
	var out []*types.UserRegion
	if err := r.h(tx).WithContext(ctx).Where("user_id = ?", userID).Order("visible_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
