package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/types"
)

type SocialRepo interface {
	CreateInvitation(ctx context.Context, tx *gorm.DB, row *types.Invitation) (*types.Invitation, error)
	ListInvitationsBySender(ctx context.Context, tx *gorm.DB, senderID uuid.UUID) ([]*types.Invitation, error)
	GetInvitationByToken(ctx context.Context, tx *gorm.DB, token string) (*types.Invitation, error)
	UpdateInvitationFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error

	CreateGift(ctx context.Context, tx *gorm.DB, row *types.Gift) (*types.Gift, error)
	GetGiftByToken(ctx context.Context, tx *gorm.DB, token string) (*types.Gift, error)
	ListGiftsByCreator(ctx context.Context, tx *gorm.DB, creatorID uuid.UUID) ([]*types.Gift, error)
	// RedeemGift marks the gift redeemed only if it has not been redeemed
	// yet; returns false when another redeemer got there first.
	RedeemGift(ctx context.Context, tx *gorm.DB, id uuid.UUID, redeemerID uuid.UUID, at interface{}) (bool, error)
}

type socialRepo struct{ base }

func NewSocialRepo(db *gorm.DB, baseLog *logger.Logger) SocialRepo {
	return &socialRepo{base{db: db, log: baseLog.With("repo", "SocialRepo")}}
}

func (r *socialRepo) CreateInvitation(ctx context.Context, tx *gorm.DB, row *types.Invitation) (*types.Invitation, error) {
	if err := r.h(tx).WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *socialRepo) ListInvitationsBySender(ctx context.Context, tx *gorm.DB, senderID uuid.UUID) ([]*types.Invitation, error) {
	var out []*types.Invitation
	if err := r.h(tx).WithContext(ctx).Where("sender_id = ?", senderID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *socialRepo) GetInvitationByToken(ctx context.Context, tx *gorm.DB, token string) (*types.Invitation, error) {
	var row types.Invitation
	err := r.h(tx).WithContext(ctx).Where("token = ?", token).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *socialRepo) UpdateInvitationFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return r.h(tx).WithContext(ctx).Model(&types.Invitation{}).Where("id = ?", id).Updates(updates).Error
}

func (r *socialRepo) CreateGift(ctx context.Context, tx *gorm.DB, row *types.Gift) (*types.Gift, error) {
	if err := r.h(tx).WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *socialRepo) GetGiftByToken(ctx context.Context, tx *gorm.DB, token string) (*types.Gift, error) {
	var row types.Gift
	err := r.h(tx).WithContext(ctx).Where("token = ?", token).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *socialRepo) ListGiftsByCreator(ctx context.Context, tx *gorm.DB, creatorID uuid.UUID) ([]*types.Gift, error) {
	var out []*types.Gift
	if err := r.h(tx).WithContext(ctx).Where("creator_id = ?", creatorID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *socialRepo) RedeemGift(ctx context.Context, tx *gorm.DB, id uuid.UUID, redeemerID uuid.UUID, at interface{}) (bool, error) {
	res := r.h(tx).WithContext(ctx).Model(&types.Gift{}).
		Where("id = ? AND redeemed_at IS NULL", id).
		Updates(map[string]interface{}{"redeemed_at": at, "redeemer_id": redeemerID})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

type ShopRepo interface {
	CreateInvoice(ctx context.Context, tx *gorm.DB, row *types.ShopInvoice) (*types.ShopInvoice, error)
	UpdateInvoiceFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	CreateTransaction(ctx context.Context, tx *gorm.DB, row *types.ShopTransaction) (*types.ShopTransaction, error)
	GetUserShop(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.UserShop, error)
	UpsertUserShop(ctx context.Context, tx *gorm.DB, row *types.UserShop) error
}

type shopRepo struct{ base }

func NewShopRepo(db *gorm.DB, baseLog *logger.Logger) ShopRepo {
	return &shopRepo{base{db: db, log: baseLog.With("repo", "ShopRepo")}}
}

func (r *shopRepo) CreateInvoice(ctx context.Context, tx *gorm.DB, row *types.ShopInvoice) (*types.ShopInvoice, error) {
	if err := r.h(tx).WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *shopRepo) UpdateInvoiceFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return r.h(tx).WithContext(ctx).Model(&types.ShopInvoice{}).Where("id = ?", id).Updates(updates).Error
}

func (r *shopRepo) CreateTransaction(ctx context.Context, tx *gorm.DB, row *types.ShopTransaction) (*types.ShopTransaction, error) {
	if err := r.h(tx).WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *shopRepo) GetUserShop(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.UserShop, error) {
	var row types.UserShop
	err := r.h(tx).WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *shopRepo) UpsertUserShop(ctx context.Context, tx *gorm.DB, row *types.UserShop) error {
	return r.h(tx).WithContext(ctx).Save(row).Error
}

type NotificationRepo interface {
	Get(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.UserNotification, error)
	Upsert(ctx context.Context, tx *gorm.DB, row *types.UserNotification) error
	ListAll(ctx context.Context, tx *gorm.DB) ([]*types.UserNotification, error)
}

type notificationRepo struct{ base }

func NewNotificationRepo(db *gorm.DB, baseLog *logger.Logger) NotificationRepo {
	return &notificationRepo{base{db: db, log: baseLog.With("repo", "NotificationRepo")}}
}

func (r *notificationRepo) Get(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.UserNotification, error) {
	var row types.UserNotification
	err := r.h(tx).WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *notificationRepo) Upsert(ctx context.Context, tx *gorm.DB, row *types.UserNotification) error {
	return r.h(tx).WithContext(ctx).Save(row).Error
}

func (r *notificationRepo) ListAll(ctx context.Context, tx *gorm.DB) ([]*types.UserNotification, error) {
	var out []*types.UserNotification
	if err := r.h(tx).WithContext(ctx).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
