package maintenance

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	fbclock "github.com/facebookgo/clock"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/okapigames/farpoint-backend/internal/clock"
	"github.com/okapigames/farpoint-backend/internal/db"
	"github.com/okapigames/farpoint-backend/internal/locks"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/repos"
	"github.com/okapigames/farpoint-backend/internal/types"
)

type maintRig struct {
	gdb     *gorm.DB
	repos   *repos.All
	service *Service
	mock    *fbclock.Mock
}

func newMaintRig(t *testing.T) *maintRig {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	gdb, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := logger.NewNop()
	clk, mock := clock.NewMock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	allRepos := repos.New(gdb, log)
	service := New(allRepos, clk, locks.NewMemoryManager(), log)
	return &maintRig{gdb: gdb, repos: allRepos, service: service, mock: mock}
}

func (rig *maintRig) appendChip(t *testing.T, userID uuid.UUID, timeUS int64, deliverAtUS *int64) {
	t.Helper()
	err := rig.repos.Chips.Append(context.Background(), nil, []*types.Chip{{
		ID:          uuid.New(),
		UserID:      userID,
		Path:        datatypes.JSON(`["users","x"]`),
		Action:      "MOD",
		Value:       datatypes.JSON(`{}`),
		TimeUS:      timeUS,
		DeliverAtUS: deliverAtUS,
	}})
	if err != nil {
		t.Fatalf("append chip: %v", err)
	}
}

func TestVacuumChipsKeepsUndelivered(t *testing.T) {
	rig := newMaintRig(t)
	userID := uuid.New()
	nowUS := rig.mock.Now().UnixMicro()
	hourUS := time.Hour.Microseconds()

	future := nowUS + hourUS
	rig.appendChip(t, userID, nowUS-3*hourUS, nil)     // old, delivered
	rig.appendChip(t, userID, nowUS-3*hourUS, &future) // old but still pending
	rig.appendChip(t, userID, nowUS-time.Minute.Microseconds(), nil)

	if err := rig.service.VacuumChips(context.Background()); err != nil {
		t.Fatalf("vacuum: %v", err)
	}

	var remaining []*types.Chip
	if err := rig.gdb.Where("user_id = ?", userID).Order("seq").Find(&remaining).Error; err != nil {
		t.Fatalf("list chips: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected the pending and recent chips to survive, got %d", len(remaining))
	}
	for _, chip := range remaining {
		if chip.TimeUS == nowUS-3*hourUS && chip.DeliverAtUS == nil {
			t.Fatal("the old delivered chip should have been vacuumed")
		}
	}
}

func TestVacuumChipsSkipsWhenLocked(t *testing.T) {
	rig := newMaintRig(t)
	userID := uuid.New()
	rig.appendChip(t, userID, rig.mock.Now().Add(-3*time.Hour).UnixMicro(), nil)

	mgr := locks.NewMemoryManager()
	rig.service.locks = mgr
	release, err := mgr.Acquire(context.Background(), locks.LockVacuumOldChips, 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	if err := rig.service.VacuumChips(context.Background()); err != nil {
		t.Fatalf("held lock should be a quiet skip, got %v", err)
	}
	var count int64
	if err := rig.gdb.Model(&types.Chip{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		t.Fatalf("count chips: %v", err)
	}
	if count != 1 {
		t.Fatal("a skipped scan must not delete anything")
	}
}

func TestCleanupTargetMetadata(t *testing.T) {
	rig := newMaintRig(t)

	target := &types.Target{
		ID:        uuid.New(),
		RoverID:   uuid.New(),
		RenderAt:  rig.mock.Now(),
		CreatedAt: rig.mock.Now(),
		UpdatedAt: rig.mock.Now(),
	}
	if _, err := rig.repos.Targets.Create(context.Background(), nil, target); err != nil {
		t.Fatalf("create target: %v", err)
	}
	live := &types.TargetMetadata{ID: uuid.New(), TargetID: target.ID, Key: "weather", Value: "clear"}
	orphan := &types.TargetMetadata{ID: uuid.New(), TargetID: uuid.New(), Key: "weather", Value: "dust"}
	if err := rig.gdb.Create(live).Error; err != nil {
		t.Fatalf("create metadata: %v", err)
	}
	if err := rig.gdb.Create(orphan).Error; err != nil {
		t.Fatalf("create metadata: %v", err)
	}

	if err := rig.service.CleanupTargetMetadata(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	var remaining []*types.TargetMetadata
	if err := rig.gdb.Find(&remaining).Error; err != nil {
		t.Fatalf("list metadata: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != live.ID {
		t.Fatalf("only the attached row should survive, got %+v", remaining)
	}
}
