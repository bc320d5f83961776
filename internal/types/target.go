package types

import (
	"time"

	"github.com/google/uuid"
)

// Image kinds produced by the renderer.
const (
	ImageKindPhoto      = "PHOTO"
	ImageKindThumb      = "THUMB"
	ImageKindThumbLarge = "THUMB_LARGE"
	ImageKindWallpaper  = "WALLPAPER"
	ImageKindSpecies    = "SPECIES"
	ImageKindInfrared   = "INFRARED"
)

type Target struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	RoverID     uuid.UUID  `gorm:"type:uuid;not null;index;column:rover_id" json:"rover_id"`
	StartLat    float64    `gorm:"not null;column:start_lat" json:"start_lat"`
	StartLng    float64    `gorm:"not null;column:start_lng" json:"start_lng"`
	Lat         float64    `gorm:"not null;column:lat" json:"lat"`
	Lng         float64    `gorm:"not null;column:lng" json:"lng"`
	Yaw         float64    `gorm:"not null;column:yaw" json:"yaw"`
	Pitch       float64    `gorm:"not null;column:pitch" json:"pitch"`
	// StartTime/ArrivalTime are seconds since the owning user's epoch.
	StartTime   int64      `gorm:"not null;index;column:start_time" json:"start_time"`
	ArrivalTime int64      `gorm:"not null;column:arrival_time" json:"arrival_time"`
	// RenderAt is absolute: user.epoch + start_time.
	RenderAt    time.Time  `gorm:"not null;index;column:render_at" json:"render_at"`
	Picture     bool       `gorm:"not null;default:true;column:picture" json:"picture"`
	Processed   bool       `gorm:"not null;default:false;index;column:processed" json:"processed"`
	Classified  bool       `gorm:"not null;default:false;column:classified" json:"classified"`
	UserCreated bool       `gorm:"not null;default:true;column:user_created" json:"user_created"`
	Highlight   bool       `gorm:"not null;default:false;index;column:highlight" json:"highlight"`
	ViewedAt    *time.Time `gorm:"column:viewed_at" json:"viewed_at,omitempty"`
	LockToken   string     `gorm:"not null;default:'';column:lock_token" json:"-"`
	LockExpires *time.Time `gorm:"column:lock_expires" json:"-"`
	CreatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Target) TableName() string { return "targets" }

type TargetImage struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TargetID uuid.UUID `gorm:"type:uuid;not null;index;column:target_id" json:"target_id"`
	Kind     string    `gorm:"not null;column:kind" json:"kind"`
	URL      string    `gorm:"not null;column:url" json:"url"`
}

func (TargetImage) TableName() string { return "target_images" }

type TargetSound struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TargetID uuid.UUID `gorm:"type:uuid;not null;index;column:target_id" json:"target_id"`
	SoundKey string    `gorm:"not null;column:sound_key" json:"sound_key"`
	URL      string    `gorm:"not null;column:url" json:"url"`
}

func (TargetSound) TableName() string { return "target_sounds" }

// TargetImageRect is a species region tagged by the player on a processed
// photo.
type TargetImageRect struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TargetID     uuid.UUID `gorm:"type:uuid;not null;index;column:target_id" json:"target_id"`
	Seq          int       `gorm:"not null;column:seq" json:"seq"`
	XMin         float64   `gorm:"not null;column:xmin" json:"xmin"`
	YMin         float64   `gorm:"not null;column:ymin" json:"ymin"`
	XMax         float64   `gorm:"not null;column:xmax" json:"xmax"`
	YMax         float64   `gorm:"not null;column:ymax" json:"ymax"`
	Density      float64   `gorm:"not null;column:density" json:"density"`
	SpeciesNum   int       `gorm:"not null;column:species_id" json:"species_id"`
	SubspeciesID int       `gorm:"not null;default:0;column:subspecies_id" json:"subspecies_id"`
	CreatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (TargetImageRect) TableName() string { return "target_image_rects" }

type TargetMetadata struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TargetID uuid.UUID `gorm:"type:uuid;not null;index;column:target_id" json:"target_id"`
	Key      string    `gorm:"not null;column:key" json:"key"`
	Value    string    `gorm:"not null;default:'';column:value" json:"value"`
}

func (TargetMetadata) TableName() string { return "target_metadata" }

// UserMapTile rows for one (zoom,x,y) key form a chain ordered by
// arrival_time; each row's expiry equals the next row's arrival and the
// final row never expires.
type UserMapTile struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`
	Zoom        int       `gorm:"not null;column:zoom" json:"zoom"`
	X           int       `gorm:"not null;column:x" json:"x"`
	Y           int       `gorm:"not null;column:y" json:"y"`
	ArrivalTime int64     `gorm:"not null;column:arrival_time" json:"arrival_time"`
	ExpiryTime  *int64    `gorm:"column:expiry_time" json:"expiry_time,omitempty"`
	URL         string    `gorm:"not null;column:url" json:"url"`
}

func (UserMapTile) TableName() string { return "user_map_tiles" }
