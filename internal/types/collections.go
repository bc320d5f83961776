package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Mission struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID  `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`
	MissionDef string     `gorm:"not null;index;column:mission_def" json:"mission_def"`
	Done       bool       `gorm:"not null;default:false;column:done" json:"done"`
	DoneAt     *time.Time `gorm:"column:done_at" json:"done_at,omitempty"`
	ViewedAt   *time.Time `gorm:"column:viewed_at" json:"viewed_at,omitempty"`
	Sort       int        `gorm:"not null;default:0;column:sort" json:"sort"`
	StartedAt  time.Time  `gorm:"not null;column:started_at" json:"started_at"`
}

func (Mission) TableName() string { return "missions" }

type Message struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID  `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`
	MsgType    string     `gorm:"not null;column:msg_type" json:"msg_type"`
	SentAt     time.Time  `gorm:"not null;index;column:sent_at" json:"sent_at"`
	ReadAt     *time.Time `gorm:"column:read_at" json:"read_at,omitempty"`
	Locked     bool       `gorm:"not null;default:false;column:locked" json:"locked"`
	UnlockedAt *time.Time `gorm:"column:unlocked_at" json:"unlocked_at,omitempty"`
}

func (Message) TableName() string { return "messages" }

// SpeciesRecord exists iff at least one of the user's image rects references
// the species.
type SpeciesRecord struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID      `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`
	SpeciesNum int            `gorm:"not null;column:species_id" json:"species_id"`
	SpeciesKey string         `gorm:"not null;column:species_key" json:"species_key"`
	Subspecies datatypes.JSON `gorm:"type:jsonb;column:subspecies" json:"subspecies"` // []int
	DetectedAt time.Time      `gorm:"not null;column:detected_at" json:"detected_at"`
	ViewedAt   *time.Time     `gorm:"column:viewed_at" json:"viewed_at,omitempty"`
	RectCount  int            `gorm:"not null;default:0;column:rect_count" json:"rect_count"`
}

func (SpeciesRecord) TableName() string { return "species" }

type Achievement struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`
	AchievementKey string     `gorm:"not null;column:achievement_key" json:"achievement_key"`
	AchievedAt     *time.Time `gorm:"column:achieved_at" json:"achieved_at,omitempty"`
	ViewedAt       *time.Time `gorm:"column:viewed_at" json:"viewed_at,omitempty"`
	CreatedAt      time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Achievement) TableName() string { return "achievements" }

type Capability struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`
	CapabilityKey string    `gorm:"not null;column:capability_key" json:"capability_key"`
	Available     bool      `gorm:"not null;default:false;column:available" json:"available"`
	Unlimited     bool      `gorm:"not null;default:false;column:unlimited" json:"unlimited"`
	Uses          int       `gorm:"not null;default:0;column:uses" json:"uses"`
	FreeUses      int       `gorm:"not null;default:0;column:free_uses" json:"free_uses"`
}

func (Capability) TableName() string { return "capabilities" }

type Voucher struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`
	VoucherKey  string    `gorm:"not null;column:voucher_key" json:"voucher_key"`
	DeliveredAt time.Time `gorm:"not null;column:delivered_at" json:"delivered_at"`
}

func (Voucher) TableName() string { return "vouchers" }

type ProgressKey struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index:idx_progress_user_key,unique;column:user_id" json:"user_id"`
	Key        string    `gorm:"not null;index:idx_progress_user_key,unique;column:key" json:"key"`
	Value      string    `gorm:"not null;default:'';column:value" json:"value"`
	AchievedAt time.Time `gorm:"not null;column:achieved_at" json:"achieved_at"`
}

func (ProgressKey) TableName() string { return "users_progress" }

// UserRegion makes a catalog region visible to a user (regions themselves
// are immutable content).
type UserRegion struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`
	RegionID  string    `gorm:"not null;column:region_id" json:"region_id"`
	VisibleAt time.Time `gorm:"not null;column:visible_at" json:"visible_at"`
}

func (UserRegion) TableName() string { return "user_regions" }
