package repos

import (
	"gorm.io/gorm"

	"github.com/okapigames/farpoint-backend/internal/logger"
)

// base carries the shared tx-or-db fallback every repo uses: methods accept
// an optional transaction handle and fall back to the root connection.
type base struct {
	db  *gorm.DB
	log *logger.Logger
}

func (b base) h(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return b.db
}

// All bundles every repo so services and the gamestate loader take one
// dependency instead of a dozen.
type All struct {
	Users        UserRepo
	Rovers       RoverRepo
	Targets      TargetRepo
	MapTiles     MapTileRepo
	Chips        ChipRepo
	Deferred     DeferredRepo
	EmailQueue   EmailQueueRepo
	Missions     MissionRepo
	Messages     MessageRepo
	Species      SpeciesRepo
	Achievements AchievementRepo
	Capabilities CapabilityRepo
	Vouchers     VoucherRepo
	Progress     ProgressRepo
	Regions      UserRegionRepo
	Social       SocialRepo
	Shop         ShopRepo
	Notification NotificationRepo
}

func New(db *gorm.DB, baseLog *logger.Logger) *All {
	return &All{
		Users:        NewUserRepo(db, baseLog),
		Rovers:       NewRoverRepo(db, baseLog),
		Targets:      NewTargetRepo(db, baseLog),
		MapTiles:     NewMapTileRepo(db, baseLog),
		Chips:        NewChipRepo(db, baseLog),
		Deferred:     NewDeferredRepo(db, baseLog),
		EmailQueue:   NewEmailQueueRepo(db, baseLog),
		Missions:     NewMissionRepo(db, baseLog),
		Messages:     NewMessageRepo(db, baseLog),
		Species:      NewSpeciesRepo(db, baseLog),
		Achievements: NewAchievementRepo(db, baseLog),
		Capabilities: NewCapabilityRepo(db, baseLog),
		Vouchers:     NewVoucherRepo(db, baseLog),
		Progress:     NewProgressRepo(db, baseLog),
		Regions:      NewUserRegionRepo(db, baseLog),
		Social:       NewSocialRepo(db, baseLog),
		Shop:         NewShopRepo(db, baseLog),
		Notification: NewNotificationRepo(db, baseLog),
	}
}
