package types

import (
	"time"

	"github.com/google/uuid"
)

type Invitation struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	SenderID        uuid.UUID  `gorm:"type:uuid;not null;index;column:sender_id" json:"sender_id"`
	RecipientEmail  string     `gorm:"not null;column:recipient_email" json:"recipient_email"`
	RecipientFirst  string     `gorm:"column:recipient_first_name" json:"first_name"`
	RecipientLast   string     `gorm:"column:recipient_last_name" json:"last_name"`
	Message         string     `gorm:"column:message" json:"message"`
	Token           string     `gorm:"uniqueIndex;not null;column:token" json:"-"`
	AcceptedAt      *time.Time `gorm:"column:accepted_at" json:"accepted_at,omitempty"`
	RecipientUserID *uuid.UUID `gorm:"type:uuid;column:recipient_user_id" json:"recipient_user_id,omitempty"`
	CreatedAt       time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Invitation) TableName() string { return "invitations" }

type Gift struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CreatorID  *uuid.UUID `gorm:"type:uuid;column:creator_id" json:"creator_id,omitempty"`
	GiftType   string     `gorm:"not null;column:gift_type" json:"gift_type"`
	Token      string     `gorm:"uniqueIndex;not null;column:token" json:"-"`
	Annotation string     `gorm:"column:annotation" json:"annotation"`
	RedeemedAt *time.Time `gorm:"column:redeemed_at" json:"redeemed_at,omitempty"`
	RedeemerID *uuid.UUID `gorm:"type:uuid;column:redeemer_id" json:"redeemer_id,omitempty"`
	CreatedAt  time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Gift) TableName() string { return "gifts" }

type ShopInvoice struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`
	ProductKey string    `gorm:"not null;column:product_key" json:"product_key"`
	Currency   string    `gorm:"not null;default:'usd';column:currency" json:"currency"`
	TotalCents int64     `gorm:"not null;column:total_cents" json:"total_cents"`
	State      string    `gorm:"not null;column:state" json:"state"` // open|paid|failed
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (ShopInvoice) TableName() string { return "shop_invoices" }

type ShopTransaction struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceID    uuid.UUID `gorm:"type:uuid;not null;index;column:invoice_id" json:"invoice_id"`
	Gateway      string    `gorm:"not null;default:'stripe';column:gateway" json:"gateway"`
	ChargeID     string    `gorm:"column:charge_id" json:"charge_id"`
	AmountCents  int64     `gorm:"not null;column:amount_cents" json:"amount_cents"`
	State        string    `gorm:"not null;column:state" json:"state"` // succeeded|failed
	ErrorCode    string    `gorm:"column:error_code" json:"error_code,omitempty"`
	ErrorMessage string    `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (ShopTransaction) TableName() string { return "shop_transactions" }
