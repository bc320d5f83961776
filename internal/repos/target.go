package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/types"
)

type RoverRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rover *types.Rover) (*types.Rover, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Rover, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Rover, error)
}

type roverRepo struct{ base }

func NewRoverRepo(db *gorm.DB, baseLog *logger.Logger) RoverRepo {
	return &roverRepo{base{db: db, log: baseLog.With("repo", "RoverRepo")}}
}

func (r *roverRepo) Create(ctx context.Context, tx *gorm.DB, rover *types.Rover) (*types.Rover, error) {
	if err := r.h(tx).WithContext(ctx).Create(rover).Error; err != nil {
		return nil, err
	}
	return rover, nil
}

func (r *roverRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Rover, error) {
	var row types.Rover
	err := r.h(tx).WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *roverRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Rover, error) {
	var out []*types.Rover
	if err := r.h(tx).WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

type TargetRepo interface {
	Create(ctx context.Context, tx *gorm.DB, target *types.Target) (*types.Target, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Target, error)
	ListByRovers(ctx context.Context, tx *gorm.DB, roverIDs []uuid.UUID) ([]*types.Target, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error

	// OldestRenderable returns the oldest picture target whose render_at
	// has passed and which is neither processed nor validly locked.
	OldestRenderable(ctx context.Context, tx *gorm.DB, now time.Time) (*types.Target, error)
	// ClaimForRender is the single conditional UPDATE guarding against two
	// renderer workers picking the same target: it succeeds only when the
	// row was unlocked or its lock had expired.
	ClaimForRender(ctx context.Context, tx *gorm.DB, id uuid.UUID, token string, expires time.Time, now time.Time) (bool, error)

	CreateImages(ctx context.Context, tx *gorm.DB, images []*types.TargetImage) error
	CreateSounds(ctx context.Context, tx *gorm.DB, sounds []*types.TargetSound) error
	CreateRects(ctx context.Context, tx *gorm.DB, rects []*types.TargetImageRect) error
	CreateMetadata(ctx context.Context, tx *gorm.DB, rows []*types.TargetMetadata) error
	DeleteMetadataByKeys(ctx context.Context, tx *gorm.DB, targetID uuid.UUID, keys []string) error
	ListImagesByTargets(ctx context.Context, tx *gorm.DB, targetIDs []uuid.UUID) ([]*types.TargetImage, error)
	ListSoundsByTargets(ctx context.Context, tx *gorm.DB, targetIDs []uuid.UUID) ([]*types.TargetSound, error)
	ListRectsByTargets(ctx context.Context, tx *gorm.DB, targetIDs []uuid.UUID) ([]*types.TargetImageRect, error)
	ListMetadataByTargets(ctx context.Context, tx *gorm.DB, targetIDs []uuid.UUID) ([]*types.TargetMetadata, error)
	ListHighlights(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Target, error)
	CleanupOrphanMetadata(ctx context.Context, tx *gorm.DB) (int64, error)
}

type targetRepo struct{ base }

func NewTargetRepo(db *gorm.DB, baseLog *logger.Logger) TargetRepo {
	return &targetRepo{base{db: db, log: baseLog.With("repo", "TargetRepo")}}
}

func (r *targetRepo) Create(ctx context.Context, tx *gorm.DB, target *types.Target) (*types.Target, error) {
	if err := r.h(tx).WithContext(ctx).Create(target).Error; err != nil {
		return nil, err
	}
	return target, nil
}

func (r *targetRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Target, error) {
	var target types.Target
	err := r.h(tx).WithContext(ctx).Where("id = ?", id).First(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &target, nil
}

func (r *targetRepo) ListByRovers(ctx context.Context, tx *gorm.DB, roverIDs []uuid.UUID) ([]*types.Target, error) {
	var out []*types.Target
	if len(roverIDs) == 0 {
		return out, nil
	}
	err := r.h(tx).WithContext(ctx).
		Where("rover_id IN ?", roverIDs).
		Order("start_time ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *targetRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return r.h(tx).WithContext(ctx).Model(&types.Target{}).Where("id = ?", id).Updates(updates).Error
}

func (r *targetRepo) DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	h := r.h(tx).WithContext(ctx)
	for _, child := range []interface{}{&types.TargetImage{}, &types.TargetSound{}, &types.TargetImageRect{}, &types.TargetMetadata{}} {
		if err := h.Where("target_id IN ?", ids).Delete(child).Error; err != nil {
			return err
		}
	}
	return h.Where("id IN ?", ids).Delete(&types.Target{}).Error
}

func (r *targetRepo) OldestRenderable(ctx context.Context, tx *gorm.DB, now time.Time) (*types.Target, error) {
	var target types.Target
	err := r.h(tx).WithContext(ctx).
		Where("picture = ? AND processed = ? AND render_at <= ?", true, false, now).
		Where("lock_token = '' OR lock_expires < ?", now).
		Order("render_at ASC").
		First(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &target, nil
}

func (r *targetRepo) ClaimForRender(ctx context.Context, tx *gorm.DB, id uuid.UUID, token string, expires time.Time, now time.Time) (bool, error) {
	res := r.h(tx).WithContext(ctx).Model(&types.Target{}).
		Where("id = ? AND processed = ?", id, false).
		Where("lock_token = '' OR lock_expires < ?", now).
		Updates(map[string]interface{}{"lock_token": token, "lock_expires": expires})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *targetRepo) CreateImages(ctx context.Context, tx *gorm.DB, images []*types.TargetImage) error {
	if len(images) == 0 {
		return nil
	}
	return r.h(tx).WithContext(ctx).Create(&images).Error
}

func (r *targetRepo) CreateSounds(ctx context.Context, tx *gorm.DB, sounds []*types.TargetSound) error {
	if len(sounds) == 0 {
		return nil
	}
	return r.h(tx).WithContext(ctx).Create(&sounds).Error
}

func (r *targetRepo) CreateRects(ctx context.Context, tx *gorm.DB, rects []*types.TargetImageRect) error {
	if len(rects) == 0 {
		return nil
	}
	return r.h(tx).WithContext(ctx).Create(&rects).Error
}

func (r *targetRepo) CreateMetadata(ctx context.Context, tx *gorm.DB, rows []*types.TargetMetadata) error {
	if len(rows) == 0 {
		return nil
	}
	return r.h(tx).WithContext(ctx).Create(&rows).Error
}

func (r *targetRepo) DeleteMetadataByKeys(ctx context.Context, tx *gorm.DB, targetID uuid.UUID, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.h(tx).WithContext(ctx).Where("target_id = ? AND key IN ?", targetID, keys).Delete(&types.TargetMetadata{}).Error
}

func (r *targetRepo) ListImagesByTargets(ctx context.Context, tx *gorm.DB, targetIDs []uuid.UUID) ([]*types.TargetImage, error) {
	var out []*types.TargetImage
	if len(targetIDs) == 0 {
		return out, nil
	}
	if err := r.h(tx).WithContext(ctx).Where("target_id IN ?", targetIDs).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *targetRepo) ListSoundsByTargets(ctx context.Context, tx *gorm.DB, targetIDs []uuid.UUID) ([]*types.TargetSound, error) {
	var out []*types.TargetSound
	if len(targetIDs) == 0 {
		return out, nil
	}
	if err := r.h(tx).WithContext(ctx).Where("target_id IN ?", targetIDs).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *targetRepo) ListRectsByTargets(ctx context.Context, tx *gorm.DB, targetIDs []uuid.UUID) ([]*types.TargetImageRect, error) {
	var out []*types.TargetImageRect
	if len(targetIDs) == 0 {
		return out, nil
	}
	if err := r.h(tx).WithContext(ctx).Where("target_id IN ?", targetIDs).Order("seq ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *targetRepo) ListMetadataByTargets(ctx context.Context, tx *gorm.DB, targetIDs []uuid.UUID) ([]*types.TargetMetadata, error) {
	var out []*types.TargetMetadata
	if len(targetIDs) == 0 {
		return out, nil
	}
	if err := r.h(tx).WithContext(ctx).Where("target_id IN ?", targetIDs).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *targetRepo) ListHighlights(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Target, error) {
	var out []*types.Target
	if limit <= 0 {
		limit = 20
	}
	err := r.h(tx).WithContext(ctx).
		Where("highlight = ? AND processed = ?", true, true).
		Order("updated_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *targetRepo) CleanupOrphanMetadata(ctx context.Context, tx *gorm.DB) (int64, error) {
	res := r.h(tx).WithContext(ctx).
		Where("target_id NOT IN (?)", r.h(tx).Model(&types.Target{}).Select("id")).
		Delete(&types.TargetMetadata{})
	return res.RowsAffected, res.Error
}

type MapTileRepo interface {
	Create(ctx context.Context, tx *gorm.DB, tile *types.UserMapTile) (*types.UserMapTile, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.UserMapTile, error)
	// ListByTileKey returns the chain for one (zoom,x,y), ordered by
	// arrival_time.
	ListByTileKey(ctx context.Context, tx *gorm.DB, userID uuid.UUID, zoom, x, y int) ([]*types.UserMapTile, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type mapTileRepo struct{ base }

func NewMapTileRepo(db *gorm.DB, baseLog *logger.Logger) MapTileRepo {
	return &mapTileRepo{base{db: db, log: baseLog.With("repo", "MapTileRepo")}}
}

func (r *mapTileRepo) Create(ctx context.Context, tx *gorm.DB, tile *types.UserMapTile) (*types.UserMapTile, error) {
	if err := r.h(tx).WithContext(ctx).Create(tile).Error; err != nil {
		return nil, err
	}
	return tile, nil
}

func (r *mapTileRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.UserMapTile, error) {
	var out []*types.UserMapTile
	err := r.h(tx).WithContext(ctx).
		Where("user_id = ?", userID).
		Order("zoom ASC, x ASC, y ASC, arrival_time ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *mapTileRepo) ListByTileKey(ctx context.Context, tx *gorm.DB, userID uuid.UUID, zoom, x, y int) ([]*types.UserMapTile, error) {
	var out []*types.UserMapTile
	err := r.h(tx).WithContext(ctx).
		Where("user_id = ? AND zoom = ? AND x = ? AND y = ?", userID, zoom, x, y).
		Order("arrival_time ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *mapTileRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return r.h(tx).WithContext(ctx).Model(&types.UserMapTile{}).Where("id = ?", id).Updates(updates).Error
}
