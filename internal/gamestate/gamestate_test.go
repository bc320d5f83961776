package gamestate

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
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/repos"
	"github.com/okapigames/farpoint-backend/internal/types"
)

func newTestEnv(t *testing.T) (*Env, *fbclock.Mock) {
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
	env := &Env{DB: gdb, Repos: repos.New(gdb, log), Clock: clk, Catalog: catalog, Log: log}
	return env, mock
}

// createTestUser inserts a user row and seeds the starter rover plus its
// derived capabilities, the way account creation does.
func createTestUser(t *testing.T, env *Env) uuid.UUID {
	t.Helper()
	now := env.Clock.Now()
	row := &types.User{
		ID:        uuid.New(),
		Email:     uuid.NewString() + "@example.com",
		Password:  "hash",
		FirstName: "Ada",
		LastName:  "Voss",
		Epoch:     now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := env.Repos.Users.Create(context.Background(), nil, row); err != nil {
		t.Fatalf("create user: %v", err)
	}
	err := env.InScope(context.Background(), func(s *Scope) error {
		u, err := LoadUser(s, row.ID)
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
	return row.ID
}

func inScope(t *testing.T, env *Env, userID uuid.UUID, fn func(u *User) error) {
	t.Helper()
	err := env.InScope(context.Background(), func(s *Scope) error {
		u, err := LoadUser(s, userID)
		if err != nil {
			return err
		}
		return fn(u)
	})
	if err != nil {
		t.Fatalf("scope failed: %v", err)
	}
}

func scopeErr(env *Env, userID uuid.UUID, fn func(u *User) error) error {
	return env.InScope(context.Background(), func(s *Scope) error {
		u, err := LoadUser(s, userID)
		if err != nil {
			return err
		}
		return fn(u)
	})
}

func fetchChips(t *testing.T, env *Env, userID uuid.UUID, sinceUS int64) []*types.Chip {
	t.Helper()
	chips, err := env.Repos.Chips.FetchSince(context.Background(), nil, userID, sinceUS, env.Clock.NowMicros())
	if err != nil {
		t.Fatalf("fetch chips: %v", err)
	}
	return chips
}

func watermark(chips []*types.Chip) int64 {
	if len(chips) == 0 {
		return 0
	}
	return chips[len(chips)-1].TimeUS
}

func TestCreateTargetChainsFromPrevious(t *testing.T) {
	env, mock := newTestEnv(t)
	userID := createTestUser(t, env)
	since := watermark(fetchChips(t, env, userID, 0))

	mock.Add(time.Second)
	var firstID uuid.UUID
	inScope(t, env, userID, func(u *User) error {
		rover := u.Rovers.All()[0]
		target, err := rover.CreateTarget(CreateTargetParams{
			Lat: 6.2393, Lng: -109.4134, ArrivalDelta: 3600, Picture: true,
		})
		if err != nil {
			return err
		}
		firstID = target.Row.ID
		if target.Row.StartLat != 6.2400 || target.Row.StartLng != -109.4100 {
			t.Fatalf("first target should start at the lander, got %f,%f", target.Row.StartLat, target.Row.StartLng)
		}
		if target.Row.StartTime != 1 || target.Row.ArrivalTime != 3601 {
			t.Fatalf("unexpected times: start=%d arrival=%d", target.Row.StartTime, target.Row.ArrivalTime)
		}
		return nil
	})

	// The ADD chip is visible now; the arrival MOD is future-dated.
	chips := fetchChips(t, env, userID, since)
	if len(chips) != 1 {
		t.Fatalf("expected 1 visible chip, got %d", len(chips))
	}
	if chips[0].Action != types.ChipAdd {
		t.Fatalf("expected ADD, got %s", chips[0].Action)
	}

	// A second target scheduled before the first arrives chains from the
	// first target's destination and arrival time.
	mock.Add(time.Second)
	inScope(t, env, userID, func(u *User) error {
		rover := u.Rovers.All()[0]
		target, err := rover.CreateTarget(CreateTargetParams{
			Lat: 6.2390, Lng: -109.4140, ArrivalDelta: 5400, Picture: true,
		})
		if err != nil {
			return err
		}
		if target.Row.StartLat != 6.2393 || target.Row.StartLng != -109.4134 {
			t.Fatalf("second target should start at the first destination, got %f,%f", target.Row.StartLat, target.Row.StartLng)
		}
		if target.Row.StartTime != 3601 {
			t.Fatalf("second target should start at the first arrival, got %d", target.Row.StartTime)
		}
		return nil
	})

	// Once the clock passes the first arrival, the deferred MOD shows up.
	mock.Add(2 * time.Hour)
	var sawArrival bool
	for _, chip := range fetchChips(t, env, userID, since) {
		if chip.DeliverAtUS != nil && strings.Contains(string(chip.Path), firstID.String()) {
			sawArrival = true
			if !strings.Contains(string(chip.Value), "arrived") {
				t.Fatalf("arrival chip should flip arrived, got %s", string(chip.Value))
			}
		}
	}
	if !sawArrival {
		t.Fatal("expected the future-dated arrival chip after the clock passed arrival")
	}
}

func TestCreateTargetValidation(t *testing.T) {
	env, mock := newTestEnv(t)
	userID := createTestUser(t, env)
	mock.Add(time.Second)

	err := scopeErr(env, userID, func(u *User) error {
		_, err := u.Rovers.All()[0].CreateTarget(CreateTargetParams{
			Lat: 6.2393, Lng: -109.4134, ArrivalDelta: 60, Picture: true,
		})
		return err
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("short travel should fail validation, got %v", err)
	}

	err = scopeErr(env, userID, func(u *User) error {
		_, err := u.Rovers.All()[0].CreateTarget(CreateTargetParams{
			Lat: 6.3000, Lng: -109.4100, ArrivalDelta: 3600, Picture: true,
		})
		return err
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("distant destination should fail validation, got %v", err)
	}
}

func TestUnarrivedPictureTargetCap(t *testing.T) {
	env, mock := newTestEnv(t)
	userID := createTestUser(t, env)
	mock.Add(time.Second)

	inScope(t, env, userID, func(u *User) error {
		rover := u.Rovers.All()[0]
		for k := int64(1); k <= 8; k++ {
			if _, err := rover.CreateTarget(CreateTargetParams{
				Lat: 6.2395, Lng: -109.4105, ArrivalDelta: 1800 * k, Picture: true,
			}); err != nil {
				return err
			}
		}
		return nil
	})

	err := scopeErr(env, userID, func(u *User) error {
		_, err := u.Rovers.All()[0].CreateTarget(CreateTargetParams{
			Lat: 6.2395, Lng: -109.4105, ArrivalDelta: 16200, Picture: true,
		})
		return err
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ninth pending photo should fail validation, got %v", err)
	}

	// Non-picture waypoints are not limited.
	inScope(t, env, userID, func(u *User) error {
		_, err := u.Rovers.All()[0].CreateTarget(CreateTargetParams{
			Lat: 6.2395, Lng: -109.4105, ArrivalDelta: 16200, Picture: false,
		})
		return err
	})
}

func TestCapabilityMetering(t *testing.T) {
	env, mock := newTestEnv(t)
	userID := createTestUser(t, env)
	mock.Add(time.Second)

	inScope(t, env, userID, func(u *User) error {
		rover := u.Rovers.All()[0]
		for k := int64(1); k <= 3; k++ {
			target, err := rover.CreateTarget(CreateTargetParams{
				Lat: 6.2395, Lng: -109.4105, ArrivalDelta: 1800 * k, Picture: true,
				Metadata: map[string]string{"TGT_FEATURE_PANORAMA": "on"},
			})
			if err != nil {
				return err
			}
			if target.Metadata["TGT_FEATURE_PANORAMA"] != "on" {
				t.Fatalf("use %d should keep the panorama key", k)
			}
		}
		capState, _ := u.Capabilities.Get("CAP_S1_CAMERA_PANORAMA")
		if capState.Row.Uses != 3 {
			t.Fatalf("expected 3 consumed uses, got %d", capState.Row.Uses)
		}

		// Fourth use is exhausted; the flash feature needs a chassis the
		// rover does not have; ungated keys always pass.
		target, err := rover.CreateTarget(CreateTargetParams{
			Lat: 6.2395, Lng: -109.4105, ArrivalDelta: 7200, Picture: true,
			Metadata: map[string]string{
				"TGT_FEATURE_PANORAMA": "on",
				"TGT_FEATURE_FLASH":    "on",
				"weather":              "dusty",
			},
		})
		if err != nil {
			return err
		}
		if _, kept := target.Metadata["TGT_FEATURE_PANORAMA"]; kept {
			t.Fatal("exhausted panorama key should be stripped")
		}
		if _, kept := target.Metadata["TGT_FEATURE_FLASH"]; kept {
			t.Fatal("unsupported flash key should be stripped")
		}
		if target.Metadata["weather"] != "dusty" {
			t.Fatal("ungated metadata should pass through")
		}
		return nil
	})
}

func TestAbortCascades(t *testing.T) {
	env, mock := newTestEnv(t)
	userID := createTestUser(t, env)
	mock.Add(time.Second)

	var ids []uuid.UUID
	inScope(t, env, userID, func(u *User) error {
		rover := u.Rovers.All()[0]
		for k := int64(1); k <= 3; k++ {
			target, err := rover.CreateTarget(CreateTargetParams{
				Lat: 6.2395, Lng: -109.4105, ArrivalDelta: 1800 * k, Picture: true,
			})
			if err != nil {
				return err
			}
			ids = append(ids, target.Row.ID)
		}
		return nil
	})

	mock.Add(time.Second)
	since := watermark(fetchChips(t, env, userID, 0))
	inScope(t, env, userID, func(u *User) error {
		second := u.FindTarget(ids[1])
		doomed, err := second.Abort()
		if err != nil {
			return err
		}
		if len(doomed) != 2 {
			t.Fatalf("abort should remove the target and its successor, got %d", len(doomed))
		}
		if u.FindTarget(ids[0]) == nil {
			t.Fatal("earlier target should survive the abort")
		}
		if u.FindTarget(ids[2]) != nil {
			t.Fatal("later target should be gone")
		}
		return nil
	})

	deletes := 0
	for _, chip := range fetchChips(t, env, userID, since) {
		if chip.Action == types.ChipDelete {
			deletes++
		}
	}
	if deletes != 2 {
		t.Fatalf("expected 2 DELETE chips, got %d", deletes)
	}

	// Arrived targets can no longer be aborted.
	mock.Add(time.Hour)
	err := scopeErr(env, userID, func(u *User) error {
		_, err := u.FindTarget(ids[0]).Abort()
		return err
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("aborting an arrived target should fail validation, got %v", err)
	}
}

func TestVoucherDominance(t *testing.T) {
	env, _ := newTestEnv(t)
	userID := createTestUser(t, env)

	inScope(t, env, userID, func(u *User) error {
		if _, err := u.DeliverVoucher("VCH_S1"); err != nil {
			return err
		}
		level, key, err := u.CurrentVoucherLevel()
		if err != nil {
			return err
		}
		if level != 1 || key != "VCH_S1" {
			t.Fatalf("expected level 1 VCH_S1, got %d %s", level, key)
		}
		capState, _ := u.Capabilities.Get("CAP_S1_CAMERA_PANORAMA")
		if !capState.Row.Unlimited {
			t.Fatal("the season pass should make panorama unlimited")
		}
		found := false
		for _, m := range u.Messages.All() {
			if m.Row.MsgType == "MSG_VCH_S1" {
				found = true
			}
		}
		if !found {
			t.Fatal("voucher delivery message missing")
		}

		// Redelivery is a warning no-op.
		if _, err := u.DeliverVoucher("VCH_S1"); err != nil {
			return err
		}
		if u.Vouchers.Len() != 1 {
			t.Fatalf("redelivery should not duplicate, got %d vouchers", u.Vouchers.Len())
		}

		// The all-access pass supersedes the season pass.
		if _, err := u.DeliverVoucher("VCH_ALL"); err != nil {
			return err
		}
		level, key, err = u.CurrentVoucherLevel()
		if err != nil {
			return err
		}
		if level != 2 || key != "VCH_ALL" {
			t.Fatalf("expected level 2 VCH_ALL, got %d %s", level, key)
		}
		return nil
	})
}

func TestVoucherNotAvailableAfter(t *testing.T) {
	env, _ := newTestEnv(t)
	userID := createTestUser(t, env)

	inScope(t, env, userID, func(u *User) error {
		_, err := u.DeliverVoucher("VCH_ALL")
		return err
	})
	err := scopeErr(env, userID, func(u *User) error {
		_, err := u.DeliverVoucher("VCH_S1")
		return err
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("the season pass should be unavailable after the all-access pass, got %v", err)
	}
}

func TestMessageUnlock(t *testing.T) {
	env, _ := newTestEnv(t)
	userID := createTestUser(t, env)

	var msgID uuid.UUID
	inScope(t, env, userID, func(u *User) error {
		m, err := u.AddMessage("MSG_ENCRYPTED01")
		if err != nil {
			return err
		}
		msgID = m.Row.ID
		if !m.Row.Locked {
			t.Fatal("MSG_ENCRYPTED01 should be locked")
		}
		if _, hasBody := m.Wire()["body"]; hasBody {
			t.Fatal("locked message must not expose its body")
		}
		return nil
	})

	err := scopeErr(env, userID, func(u *User) error {
		m, _ := u.Messages.Get(msgID.String())
		return m.Unlock("driftglass")
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("wrong passphrase should fail validation, got %v", err)
	}

	inScope(t, env, userID, func(u *User) error {
		m, _ := u.Messages.Get(msgID.String())
		if err := m.Unlock("saltspire"); err != nil {
			return err
		}
		if !m.Unlocked() {
			t.Fatal("message should be unlocked")
		}
		if _, hasBody := m.Wire()["body"]; !hasBody {
			t.Fatal("unlocked message should expose its body")
		}
		// Second unlock is a no-op.
		return m.Unlock("saltspire")
	})
}

func TestProgressKeys(t *testing.T) {
	env, mock := newTestEnv(t)
	userID := createTestUser(t, env)

	mock.Add(time.Second)
	inScope(t, env, userID, func(u *User) error {
		_, err := u.AddProgressKey("PRG_RELAY_FOUND", "1")
		return err
	})
	since := watermark(fetchChips(t, env, userID, 0))

	// Re-adding is a no-op with no chip.
	mock.Add(time.Second)
	inScope(t, env, userID, func(u *User) error {
		_, err := u.AddProgressKey("PRG_RELAY_FOUND", "2")
		return err
	})
	if chips := fetchChips(t, env, userID, since); len(chips) != 0 {
		t.Fatalf("re-add should emit no chips, got %d", len(chips))
	}

	mock.Add(time.Second)
	inScope(t, env, userID, func(u *User) error {
		if err := u.ResetProgressKey("PRG_RELAY_FOUND"); err != nil {
			return err
		}
		if u.Progress.Len() != 0 {
			t.Fatal("progress key should be gone after reset")
		}
		return nil
	})
	chips := fetchChips(t, env, userID, since)
	if len(chips) != 1 || chips[0].Action != types.ChipDelete {
		t.Fatalf("reset should emit one DELETE chip, got %d", len(chips))
	}

	// Resetting a missing key emits nothing.
	since = watermark(fetchChips(t, env, userID, 0))
	mock.Add(time.Second)
	inScope(t, env, userID, func(u *User) error {
		return u.ResetProgressKey("PRG_RELAY_FOUND")
	})
	if chips := fetchChips(t, env, userID, since); len(chips) != 0 {
		t.Fatalf("resetting a missing key should emit no chips, got %d", len(chips))
	}
}

func TestMapTileExpiryChain(t *testing.T) {
	env, _ := newTestEnv(t)
	userID := createTestUser(t, env)

	inScope(t, env, userID, func(u *User) error {
		if err := u.AddMapTile(3, 5, 7, 100, "tiles/a.png"); err != nil {
			return err
		}
		if err := u.AddMapTile(3, 5, 7, 300, "tiles/c.png"); err != nil {
			return err
		}
		// Out-of-order insert relinks both neighbors.
		return u.AddMapTile(3, 5, 7, 200, "tiles/b.png")
	})

	chain, err := env.Repos.MapTiles.ListByTileKey(context.Background(), nil, userID, 3, 5, 7)
	if err != nil {
		t.Fatalf("list tile chain: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected 3 tiles, got %d", len(chain))
	}
	if chain[0].ExpiryTime == nil || *chain[0].ExpiryTime != 200 {
		t.Fatalf("first tile should expire at 200, got %v", chain[0].ExpiryTime)
	}
	if chain[1].ExpiryTime == nil || *chain[1].ExpiryTime != 300 {
		t.Fatalf("middle tile should expire at 300, got %v", chain[1].ExpiryTime)
	}
	if chain[2].ExpiryTime != nil {
		t.Fatalf("last tile should never expire, got %v", *chain[2].ExpiryTime)
	}
}

func TestAttachRenderResults(t *testing.T) {
	env, mock := newTestEnv(t)
	userID := createTestUser(t, env)
	mock.Add(time.Second)

	var targetID uuid.UUID
	inScope(t, env, userID, func(u *User) error {
		target, err := u.Rovers.All()[0].CreateTarget(CreateTargetParams{
			Lat: 6.2393, Lng: -109.4134, ArrivalDelta: 3600, Picture: true,
		})
		if err != nil {
			return err
		}
		targetID = target.Row.ID
		return nil
	})

	since := watermark(fetchChips(t, env, userID, 0))
	mock.Add(time.Second)
	inScope(t, env, userID, func(u *User) error {
		target := u.FindTarget(targetID)
		err := target.AttachRenderResults(
			map[string]string{types.ImageKindPhoto: "renders/photo.jpg", types.ImageKindThumb: "renders/thumb.jpg"},
			map[string]string{"ambient": "renders/wind.ogg"},
			false,
			map[string]string{"sky": "clear"},
		)
		if err != nil {
			return err
		}
		if !target.Row.Processed {
			t.Fatal("target should be processed")
		}
		if target.ImageURL(types.ImageKindPhoto) != "renders/photo.jpg" {
			t.Fatal("photo image missing")
		}
		return nil
	})

	// The image-bearing chip is held back until just before arrival.
	if chips := fetchChips(t, env, userID, since); len(chips) != 0 {
		t.Fatalf("render chip should be future-dated, got %d chips now", len(chips))
	}
	mock.Add(2 * time.Hour)
	chips := fetchChips(t, env, userID, since)
	if len(chips) == 0 {
		t.Fatal("render chip should be visible after arrival")
	}
	if !strings.Contains(string(chips[len(chips)-1].Value), "images") {
		t.Fatalf("render chip should carry images, got %s", string(chips[len(chips)-1].Value))
	}

	// A second render result for the same target is an invariant breach.
	err := scopeErr(env, userID, func(u *User) error {
		return u.FindTarget(targetID).AttachRenderResults(
			map[string]string{types.ImageKindPhoto: "renders/dup.jpg"}, nil, false, nil)
	})
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("double processing should breach an invariant, got %v", err)
	}
}

func TestFetchChipsWatermark(t *testing.T) {
	env, mock := newTestEnv(t)
	userID := createTestUser(t, env)

	mock.Add(time.Second)
	inScope(t, env, userID, func(u *User) error {
		if _, err := u.AddMission("MIS_TUT01"); err != nil {
			return err
		}
		_, err := u.AddMessage("MSG_WELCOME")
		return err
	})

	chips := fetchChips(t, env, userID, 0)
	if len(chips) == 0 {
		t.Fatal("expected chips after seeding")
	}
	for i := 1; i < len(chips); i++ {
		if chips[i].TimeUS < chips[i-1].TimeUS {
			t.Fatal("chips must be ordered by time")
		}
		if chips[i].TimeUS == chips[i-1].TimeUS && chips[i].Seq <= chips[i-1].Seq {
			t.Fatal("chips at the same instant must be ordered by seq")
		}
	}

	// Fetching again from the reported watermark yields nothing new.
	if again := fetchChips(t, env, userID, watermark(chips)); len(again) != 0 {
		t.Fatalf("fetch from watermark should be empty, got %d", len(again))
	}
}

func TestSerializeShape(t *testing.T) {
	env, mock := newTestEnv(t)
	userID := createTestUser(t, env)
	mock.Add(time.Second)

	inScope(t, env, userID, func(u *User) error {
		if _, err := u.Rovers.All()[0].CreateTarget(CreateTargetParams{
			Lat: 6.2393, Lng: -109.4134, ArrivalDelta: 3600, Picture: true,
		}); err != nil {
			return err
		}
		if _, err := u.DeliverVoucher("VCH_S1"); err != nil {
			return err
		}

		state := u.Serialize()
		rovers, ok := state["rovers"].(map[string]interface{})
		if !ok || len(rovers) != 1 {
			t.Fatalf("expected one rover in the state, got %v", state["rovers"])
		}
		for _, rv := range rovers {
			targets := rv.(map[string]interface{})["targets"].(map[string]interface{})
			if len(targets) != 1 {
				t.Fatalf("expected one target under the rover, got %d", len(targets))
			}
		}
		if state["voucher_level"] != 1 {
			t.Fatalf("expected voucher level 1, got %v", state["voucher_level"])
		}
		if _, ok := state["capabilities"].(map[string]interface{})["CAP_S1_CAMERA_PANORAMA"]; !ok {
			t.Fatal("capabilities should be keyed by capability key")
		}
		return nil
	})
}

func TestRouteDumpReplayRoundTrip(t *testing.T) {
	env, _ := newTestEnv(t)
	sourceID := createTestUser(t, env)
	replayID := createTestUser(t, env)

	// Three chained legs, one hour of travel each.
	var route *Route
	inScope(t, env, sourceID, func(u *User) error {
		rover := u.Rovers.All()[0]
		for k, leg := range []CreateTargetParams{
			{Lat: 6.2393, Lng: -109.4134, Yaw: 0.1, ArrivalDelta: 3600, Picture: true},
			{Lat: 6.2388, Lng: -109.4150, ArrivalDelta: 7200},
			{Lat: 6.2380, Lng: -109.4160, Pitch: -0.2, ArrivalDelta: 10800, Picture: true,
				Metadata: map[string]string{"TGT_FEATURE_PANORAMA": "1"}},
		} {
			if _, err := rover.CreateTarget(leg); err != nil {
				t.Fatalf("create leg %d: %v", k, err)
			}
		}
		route = rover.DumpRoute()
		return nil
	})
	if len(route.Legs) != 3 {
		t.Fatalf("expected 3 dumped legs, got %d", len(route.Legs))
	}

	// Replaying at the same session instant reproduces the chain exactly.
	var replayed []*Target
	inScope(t, env, replayID, func(u *User) error {
		var err error
		replayed, err = u.Rovers.All()[0].ReplayRoute(route)
		return err
	})
	if len(replayed) != 3 {
		t.Fatalf("expected 3 replayed targets, got %d", len(replayed))
	}

	var original []*types.Target
	inScope(t, env, sourceID, func(u *User) error {
		for _, tg := range u.Rovers.All()[0].Targets.All() {
			original = append(original, tg.Row)
		}
		return nil
	})
	for i, tg := range replayed {
		if tg.Row.StartTime != original[i].StartTime || tg.Row.ArrivalTime != original[i].ArrivalTime {
			t.Fatalf("leg %d times diverged: got (%d,%d) want (%d,%d)",
				i, tg.Row.StartTime, tg.Row.ArrivalTime, original[i].StartTime, original[i].ArrivalTime)
		}
		if tg.Row.Lat != original[i].Lat || tg.Row.StartLat != original[i].StartLat {
			t.Fatalf("leg %d geometry diverged", i)
		}
	}
}

func TestReplayRouteRejectsWrongRover(t *testing.T) {
	env, _ := newTestEnv(t)
	userID := createTestUser(t, env)
	inScope(t, env, userID, func(u *User) error {
		_, err := u.Rovers.All()[0].ReplayRoute(&Route{RoverKey: "RVR_S1_UPGRADE"})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("mismatched rover profile should fail validation, got %v", err)
		}
		return nil
	})
}

func TestRoverWiresEndingAt(t *testing.T) {
	env, _ := newTestEnv(t)
	userID := createTestUser(t, env)

	inScope(t, env, userID, func(u *User) error {
		rover := u.Rovers.All()[0]
		first, err := rover.CreateTarget(CreateTargetParams{
			Lat: 6.2393, Lng: -109.4134, ArrivalDelta: 3600, Picture: true,
		})
		if err != nil {
			return err
		}
		second, err := rover.CreateTarget(CreateTargetParams{
			Lat: 6.2390, Lng: -109.4140, ArrivalDelta: 7200, Picture: true,
		})
		if err != nil {
			return err
		}

		// Asking for the first target prunes everything scheduled after it.
		rovers, err := u.RoverWiresEndingAt(first.Row.ID)
		if err != nil {
			return err
		}
		if len(rovers) != 1 {
			t.Fatalf("expected the single rover, got %d", len(rovers))
		}
		targets, ok := rovers[0]["targets"].([]map[string]interface{})
		if !ok || len(targets) != 1 || targets[0]["id"] != first.Row.ID.String() {
			t.Fatalf("list must close with the requested target, got %+v", rovers[0]["targets"])
		}

		// The second target keeps the whole chain, still closing the list.
		rovers, err = u.RoverWiresEndingAt(second.Row.ID)
		if err != nil {
			return err
		}
		targets, _ = rovers[0]["targets"].([]map[string]interface{})
		if len(targets) != 2 || targets[1]["id"] != second.Row.ID.String() {
			t.Fatalf("full chain should end at the second target, got %d entries", len(targets))
		}

		if _, err := u.RoverWiresEndingAt(uuid.New()); !errors.Is(err, ErrInvariant) {
			t.Fatalf("an unowned target id must be an invariant breach, got %v", err)
		}
		return nil
	})
}
