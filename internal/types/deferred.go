package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	DeferredMessage       = "MESSAGE"
	DeferredEmail         = "EMAIL"
	DeferredTimer         = "TIMER"
	DeferredTargetEnRoute = "TARGET_EN_ROUTE"
	DeferredTargetArrived = "TARGET_ARRIVED"
	DeferredNotification  = "NOTIFICATION"
)

// DeferredAction is one durable unit of future work. Rows are deleted on
// successful dispatch; a failing row stays put and retries next scan.
type DeferredAction struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID      `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`
	Type        string         `gorm:"not null;index;column:type" json:"type"`
	Subtype     string         `gorm:"not null;column:subtype" json:"subtype"`
	RunAt       time.Time      `gorm:"not null;index;column:run_at" json:"run_at"`
	Payload     datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload,omitempty"`
	Attempts    int            `gorm:"not null;default:0;column:attempts" json:"attempts"`
	LastError   string         `gorm:"column:last_error" json:"last_error,omitempty"`
	LastErrorAt *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP;column:created" json:"created"`
}

func (DeferredAction) TableName() string { return "deferred" }

type EmailQueueRow struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      *uuid.UUID `gorm:"type:uuid;index;column:user_id" json:"user_id,omitempty"`
	Recipient   string     `gorm:"not null;column:recipient" json:"recipient"`
	Subject     string     `gorm:"not null;column:subject" json:"subject"`
	BodyText    string     `gorm:"not null;column:body_text" json:"body_text"`
	BodyHTML    string     `gorm:"column:body_html" json:"body_html,omitempty"`
	TemplateKey string     `gorm:"not null;column:template_key" json:"template_key"`
	Attempts    int        `gorm:"not null;default:0;column:attempts" json:"attempts"`
	LastError   string     `gorm:"column:last_error" json:"last_error,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

func (EmailQueueRow) TableName() string { return "email_queue" }
