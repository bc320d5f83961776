package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/types"
	"github.com/okapigames/farpoint-backend/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "farpoint", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	serviceLog.Info("Connecting to Postgres...")
	gormDB, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	return &PostgresService{db: gormDB, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	return AutoMigrate(s.db)
}

// AutoMigrate is shared with sqlite-backed tests.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.User{},
		&types.UserNotification{},
		&types.UserShop{},
		&types.Rover{},
		&types.Target{},
		&types.TargetImage{},
		&types.TargetSound{},
		&types.TargetImageRect{},
		&types.TargetMetadata{},
		&types.UserMapTile{},
		&types.Mission{},
		&types.Message{},
		&types.SpeciesRecord{},
		&types.Achievement{},
		&types.Capability{},
		&types.Voucher{},
		&types.ProgressKey{},
		&types.UserRegion{},
		&types.Chip{},
		&types.DeferredAction{},
		&types.EmailQueueRow{},
		&types.Invitation{},
		&types.Gift{},
		&types.ShopInvoice{},
		&types.ShopTransaction{},
	)
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
