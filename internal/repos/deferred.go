package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/types"
)

type DeferredRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.DeferredAction) (*types.DeferredAction, error)
	// ListDue returns rows with run_at <= until in non-decreasing run_at
	// order, locked with SKIP LOCKED so overlapping scans never double-run.
	ListDue(ctx context.Context, tx *gorm.DB, until time.Time) ([]*types.DeferredAction, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string, at time.Time) error
	DeleteByTargetSubtypes(ctx context.Context, tx *gorm.DB, userID uuid.UUID, subtypes []string) error
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.DeferredAction, error)
}

type deferredRepo struct{ base }

func NewDeferredRepo(db *gorm.DB, baseLog *logger.Logger) DeferredRepo {
	return &deferredRepo{base{db: db, log: baseLog.With("repo", "DeferredRepo")}}
}

func (r *deferredRepo) Create(ctx context.Context, tx *gorm.DB, row *types.DeferredAction) (*types.DeferredAction, error) {
	if err := r.h(tx).WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *deferredRepo) ListDue(ctx context.Context, tx *gorm.DB, until time.Time) ([]*types.DeferredAction, error) {
	var out []*types.DeferredAction
	h := r.h(tx).WithContext(ctx)
	q := h.Where("run_at <= ?", until).Order("run_at ASC, created ASC")
	if h.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *deferredRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.h(tx).WithContext(ctx).Where("id = ?", id).Delete(&types.DeferredAction{}).Error
}

func (r *deferredRepo) MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string, at time.Time) error {
	return r.h(tx).WithContext(ctx).Model(&types.DeferredAction{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":      gorm.Expr("attempts + 1"),
			"last_error":    errMsg,
			"last_error_at": at,
		}).Error
}

func (r *deferredRepo) DeleteByTargetSubtypes(ctx context.Context, tx *gorm.DB, userID uuid.UUID, subtypes []string) error {
	if len(subtypes) == 0 {
		return nil
	}
	return r.h(tx).WithContext(ctx).
		Where("user_id = ? AND type IN ? AND subtype IN ?", userID,
			[]string{types.DeferredTargetEnRoute, types.DeferredTargetArrived}, subtypes).
		Delete(&types.DeferredAction{}).Error
}

func (r *deferredRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.DeferredAction, error) {
	var out []*types.DeferredAction
	if err := r.h(tx).WithContext(ctx).Where("user_id = ?", userID).Order("run_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

type EmailQueueRepo interface {
	Enqueue(ctx context.Context, tx *gorm.DB, row *types.EmailQueueRow) (*types.EmailQueueRow, error)
	ListOldest(ctx context.Context, tx *gorm.DB, limit int) ([]*types.EmailQueueRow, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error
}

type emailQueueRepo struct{ base }

func NewEmailQueueRepo(db *gorm.DB, baseLog *logger.Logger) EmailQueueRepo {
	return &emailQueueRepo{base{db: db, log: baseLog.With("repo", "EmailQueueRepo")}}
}

func (r *emailQueueRepo) Enqueue(ctx context.Context, tx *gorm.DB, row *types.EmailQueueRow) (*types.EmailQueueRow, error) {
	if err := r.h(tx).WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *emailQueueRepo) ListOldest(ctx context.Context, tx *gorm.DB, limit int) ([]*types.EmailQueueRow, error) {
	var out []*types.EmailQueueRow
	if limit <= 0 {
		limit = 100
	}
	if err := r.h(tx).WithContext(ctx).Order("created_at ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *emailQueueRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.h(tx).WithContext(ctx).Where("id = ?", id).Delete(&types.EmailQueueRow{}).Error
}

func (r *emailQueueRepo) MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error {
	return r.h(tx).WithContext(ctx).Model(&types.EmailQueueRow{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"attempts": gorm.Expr("attempts + 1"), "last_error": errMsg}).Error
}
