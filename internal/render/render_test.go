package render

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	fbclock "github.com/facebookgo/clock"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/okapigames/farpoint-backend/internal/clock"
	"github.com/okapigames/farpoint-backend/internal/content"
	"github.com/okapigames/farpoint-backend/internal/db"
	"github.com/okapigames/farpoint-backend/internal/email"
	"github.com/okapigames/farpoint-backend/internal/events"
	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/locks"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/repos"
	"github.com/okapigames/farpoint-backend/internal/types"
)

type renderRig struct {
	env     *gamestate.Env
	service *Service
	echo    *email.EchoTransport
	mock    *fbclock.Mock
	userID  uuid.UUID
}

func newRenderRig(t *testing.T) *renderRig {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	gdb, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	catalog, err := content.Load()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	log := logger.NewNop()
	clk, mock := clock.NewMock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	env := &gamestate.Env{DB: gdb, Repos: repos.New(gdb, log), Clock: clk, Catalog: catalog, Log: log}

	registry := events.NewRegistry()
	dispatch := events.NewDispatcher(registry, log)
	templates, err := email.NewTemplates()
	if err != nil {
		t.Fatalf("compile templates: %v", err)
	}
	echo := &email.EchoTransport{}
	emailDispatch := email.NewDispatcher(email.ModeDirect, echo, templates, env.Repos.EmailQueue, locks.NewMemoryManager(), log)
	service := New(env, dispatch, emailDispatch, locks.NewMemoryManager(), log)

	now := clk.Now()
	user := &types.User{
		ID:        uuid.New(),
		Email:     uuid.NewString() + "@example.com",
		Password:  "hash",
		FirstName: "Ada",
		Epoch:     now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := env.Repos.Users.Create(context.Background(), nil, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	err = env.InScope(context.Background(), func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, user.ID)
		if err != nil {
			return err
		}
		if _, err := u.AddRover("RVR_S1", 6.2400, -109.4100); err != nil {
			return err
		}
		return u.RederiveCapabilities()
	})
	if err != nil {
		t.Fatalf("seed rover: %v", err)
	}
	return &renderRig{env: env, service: service, echo: echo, mock: mock, userID: user.ID}
}

// createTarget schedules one picture target due for rendering immediately.
func (rig *renderRig) createTarget(t *testing.T) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := rig.env.InScope(context.Background(), func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, rig.userID)
		if err != nil {
			return err
		}
		target, err := u.Rovers.All()[0].CreateTarget(gamestate.CreateTargetParams{
			Lat: 6.2393, Lng: -109.4134, ArrivalDelta: 3600, Picture: true,
		})
		if err != nil {
			return err
		}
		id = target.Row.ID
		return nil
	})
	if err != nil {
		t.Fatalf("create target: %v", err)
	}
	return id
}

func TestNextTargetClaimsAndLocks(t *testing.T) {
	rig := newRenderRig(t)
	targetID := rig.createTarget(t)

	job, err := rig.service.NextTarget(context.Background())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job.TargetID != targetID || job.LockToken == "" {
		t.Fatalf("bad job: %+v", job)
	}
	if job.Lat != 6.2393 || job.StartLat != 6.2400 {
		t.Fatalf("job should carry the drive geometry, got %+v", job)
	}
	if len(job.Assets) == 0 {
		t.Fatal("the lander asset should be visible in the arrival frame")
	}

	// The claim shields the target from other workers until it expires.
	if _, err := rig.service.NextTarget(context.Background()); !errors.Is(err, ErrNothingToRender) {
		t.Fatalf("locked target should not be reclaimable, got %v", err)
	}
	rig.mock.Add(LockDuration + time.Second)
	again, err := rig.service.NextTarget(context.Background())
	if err != nil {
		t.Fatalf("expired lock should be reclaimable: %v", err)
	}
	if again.TargetID != targetID || again.LockToken == job.LockToken {
		t.Fatal("reclaim should mint a fresh token for the same target")
	}
}

func TestJobAssetsVisibleAtArrival(t *testing.T) {
	rig := newRenderRig(t)

	// Drive across an asset's availability boundary: the relay wreck
	// appears mid-drive, so it belongs in the frame shot at arrival even
	// though it was invisible when the rover set out.
	rig.mock.Add(time.Duration(604800-1800) * time.Second)
	targetID := rig.createTarget(t)

	job, err := rig.service.NextTarget(context.Background())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job.TargetID != targetID {
		t.Fatalf("claimed the wrong target: %+v", job)
	}
	keys := make(map[string]bool, len(job.Assets))
	for _, asset := range job.Assets {
		keys[asset.Key] = true
	}
	if !keys["AST_RELAY_WRECK"] {
		t.Fatalf("an asset appearing mid-drive should be visible at arrival, got %+v", job.Assets)
	}
	if !keys["AST_LANDER"] {
		t.Fatalf("always-on assets should stay visible, got %+v", job.Assets)
	}
}

func TestJobRoverListEndsAtClaimedTarget(t *testing.T) {
	rig := newRenderRig(t)
	first := rig.createTarget(t)

	// A second target queued behind the first must not leak into the job.
	var second uuid.UUID
	err := rig.env.InScope(context.Background(), func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, rig.userID)
		if err != nil {
			return err
		}
		target, err := u.Rovers.All()[0].CreateTarget(gamestate.CreateTargetParams{
			Lat: 6.2390, Lng: -109.4140, ArrivalDelta: 7200, Picture: true,
		})
		if err != nil {
			return err
		}
		second = target.Row.ID
		return nil
	})
	if err != nil {
		t.Fatalf("chain target: %v", err)
	}

	job, err := rig.service.NextTarget(context.Background())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job.TargetID != first {
		t.Fatalf("expected the first target, got %s", job.TargetID)
	}
	if len(job.Rovers) != 1 {
		t.Fatalf("job should carry the user's rover list, got %d rovers", len(job.Rovers))
	}
	targets, ok := job.Rovers[len(job.Rovers)-1]["targets"].([]map[string]interface{})
	if !ok || len(targets) != 1 {
		t.Fatalf("the final rover's list must stop at the claimed target, got %+v", job.Rovers)
	}
	if targets[0]["id"] != first.String() {
		t.Fatalf("the claimed target must close the list, got %v (later target %s)", targets[0]["id"], second)
	}
}

func TestNextTargetEmptyBacklog(t *testing.T) {
	rig := newRenderRig(t)
	if _, err := rig.service.NextTarget(context.Background()); !errors.Is(err, ErrNothingToRender) {
		t.Fatalf("empty backlog should report nothing to render, got %v", err)
	}
}

func TestTargetProcessedFullResult(t *testing.T) {
	rig := newRenderRig(t)
	targetID := rig.createTarget(t)
	job, err := rig.service.NextTarget(context.Background())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	result := &Result{
		Images:   map[string]string{types.ImageKindPhoto: "renders/p.jpg", types.ImageKindThumb: "renders/t.jpg"},
		Sounds:   map[string]string{"ambient": "renders/wind.ogg"},
		Metadata: map[string]string{"sky": "clear"},
		Rects: []gamestate.RectInput{
			{XMin: 0.1, YMin: 0.1, XMax: 0.4, YMax: 0.5, Density: 0.9, SpeciesNum: 101, SubspeciesID: 1},
			{XMin: 0.5, YMin: 0.2, XMax: 0.8, YMax: 0.6, Density: 0.7, SpeciesNum: 102},
		},
		MapTiles: []ResultTile{{Zoom: 4, X: 9, Y: 2, URL: "tiles/4-9-2.png"}},
	}
	if err := rig.service.TargetProcessed(context.Background(), targetID, job.LockToken, result); err != nil {
		t.Fatalf("process: %v", err)
	}

	row, err := rig.env.Repos.Targets.GetByID(context.Background(), nil, targetID)
	if err != nil {
		t.Fatalf("reload target: %v", err)
	}
	if !row.Processed || row.LockToken != "" {
		t.Fatalf("target should be processed and unlocked: %+v", row)
	}
	species, err := rig.env.Repos.Species.ListByUser(context.Background(), nil, rig.userID)
	if err != nil {
		t.Fatalf("list species: %v", err)
	}
	if len(species) != 2 {
		t.Fatalf("expected 2 species records, got %d", len(species))
	}
	tiles, err := rig.env.Repos.MapTiles.ListByUser(context.Background(), nil, rig.userID)
	if err != nil {
		t.Fatalf("list tiles: %v", err)
	}
	if len(tiles) != 1 || tiles[0].URL != "tiles/4-9-2.png" {
		t.Fatalf("expected the reported map tile, got %+v", tiles)
	}
}

func TestTargetProcessedStaleToken(t *testing.T) {
	rig := newRenderRig(t)
	targetID := rig.createTarget(t)
	if _, err := rig.service.NextTarget(context.Background()); err != nil {
		t.Fatalf("claim: %v", err)
	}

	err := rig.service.TargetProcessed(context.Background(), targetID, "stale-token", &Result{
		Images: map[string]string{types.ImageKindPhoto: "renders/p.jpg"},
	})
	if !errors.Is(err, gamestate.ErrValidation) {
		t.Fatalf("stale token should fail validation, got %v", err)
	}
	row, err := rig.env.Repos.Targets.GetByID(context.Background(), nil, targetID)
	if err != nil {
		t.Fatalf("reload target: %v", err)
	}
	if row.Processed {
		t.Fatal("a rejected result must not mark the target processed")
	}
}

func TestAlertIfDelayed(t *testing.T) {
	t.Setenv("EXCEPTION_EMAIL_ADDRESS", "ops@example.com")
	rig := newRenderRig(t)
	rig.createTarget(t)

	// Under the threshold: quiet.
	rig.mock.Add(10 * time.Minute)
	if err := rig.service.AlertIfDelayed(context.Background()); err != nil {
		t.Fatalf("alert scan: %v", err)
	}
	if len(rig.echo.Sent) != 0 {
		t.Fatal("no alarm expected under the delay threshold")
	}

	rig.mock.Add(25 * time.Minute)
	if err := rig.service.AlertIfDelayed(context.Background()); err != nil {
		t.Fatalf("alert scan: %v", err)
	}
	if len(rig.echo.Sent) != 1 || rig.echo.Sent[0].To != "ops@example.com" {
		t.Fatalf("expected one operator alarm, got %+v", rig.echo.Sent)
	}
}
