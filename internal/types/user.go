package types

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Email       string     `gorm:"uniqueIndex;not null;column:email" json:"email"`
	Password    string     `gorm:"not null;column:password" json:"-"`
	FirstName   string     `gorm:"column:first_name" json:"first_name"`
	LastName    string     `gorm:"column:last_name" json:"last_name"`
	// Epoch anchors every per-user relative timestamp (target start/arrival
	// times are seconds since this instant).
	Epoch       time.Time  `gorm:"not null;column:epoch" json:"epoch"`
	Valid       bool       `gorm:"not null;default:false;column:valid" json:"valid"`
	LastLoginAt *time.Time `gorm:"column:last_login_at" json:"last_login_at,omitempty"`
	InvitedBy   *uuid.UUID `gorm:"type:uuid;column:invited_by" json:"invited_by,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (User) TableName() string { return "users" }

type UserNotification struct {
	UserID                  uuid.UUID  `gorm:"type:uuid;primaryKey" json:"user_id"`
	ActivityAlertFrequency  string     `gorm:"not null;default:'MEDIUM';column:activity_alert_frequency" json:"activity_alert_frequency"` // OFF|SHORT|MEDIUM|LONG
	ActivityWindowStartedAt *time.Time `gorm:"column:activity_window_started_at" json:"activity_window_started_at,omitempty"`
	LastActivityAlertAt     *time.Time `gorm:"column:last_activity_alert_at" json:"last_activity_alert_at,omitempty"`
	LastLureAlertAt         *time.Time `gorm:"column:last_lure_alert_at" json:"last_lure_alert_at,omitempty"`
	LastSeenChipUS          int64      `gorm:"not null;default:0;column:last_seen_chip_us" json:"last_seen_chip_us"`
	UpdatedAt               time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (UserNotification) TableName() string { return "users_notification" }

type UserShop struct {
	UserID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	StripeCustomerID string    `gorm:"column:stripe_customer_id" json:"-"`
	SavedCardLast4   string    `gorm:"column:saved_card_last4" json:"saved_card_last4"`
	SavedCardExpMon  int       `gorm:"column:saved_card_exp_month" json:"saved_card_exp_month"`
	SavedCardExpYear int       `gorm:"column:saved_card_exp_year" json:"saved_card_exp_year"`
	UpdatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (UserShop) TableName() string { return "users_shop" }
