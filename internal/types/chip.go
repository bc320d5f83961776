package types

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ChipAdd    = "ADD"
	ChipMod    = "MOD"
	ChipDelete = "DELETE"
)

// Chip is one journal entry. TimeUS is the flush timestamp shared by every
// chip in a transaction; Seq breaks ties in emission order.
type Chip struct {
	Seq         int64          `gorm:"primaryKey;autoIncrement;column:seq" json:"seq"`
	ID          uuid.UUID      `gorm:"type:uuid;not null;column:id" json:"id"`
	UserID      uuid.UUID      `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`
	Path        datatypes.JSON `gorm:"type:jsonb;not null;column:path" json:"path"`
	Action      string         `gorm:"not null;column:action" json:"action"`
	Value       datatypes.JSON `gorm:"type:jsonb;column:value" json:"value,omitempty"`
	TimeUS      int64          `gorm:"not null;index;column:time_us" json:"time"`
	DeliverAtUS *int64         `gorm:"column:deliver_at_us" json:"deliver_at,omitempty"`
}

func (Chip) TableName() string { return "chips" }
