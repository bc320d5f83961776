package types

import (
	"time"

	"github.com/google/uuid"
)

type Rover struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`
	// RoverKey selects the behavioral profile in the content catalog
	// (target caps, travel bounds, feature gates).
	RoverKey  string    `gorm:"not null;column:rover_key" json:"rover_key"`
	Chassis   string    `gorm:"not null;column:chassis" json:"chassis"`
	Active    bool      `gorm:"not null;default:true;column:active" json:"active"`
	LanderLat float64   `gorm:"column:lander_lat" json:"lander_lat"`
	LanderLng float64   `gorm:"column:lander_lng" json:"lander_lng"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Rover) TableName() string { return "rovers" }
