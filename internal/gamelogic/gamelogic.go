// Package gamelogic registers the concrete game content callbacks: the
// tutorial mission chain, achievements, region discovery, gift and voucher
// reactions. Everything here mutates gamestate through the typed mutators,
// so chips and persistence stay consistent.
package gamelogic

import (
	"time"

	"github.com/okapigames/farpoint-backend/internal/events"
	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/scheduler"
)

const (
	// Landing site for new players.
	// The lander sits next to AST_LANDER in the catalog; new rovers start
	// their target chains here.
	landerLat = 6.2400
	landerLng = -109.4100

	// Delay before the encrypted transmission shows up for new players.
	encryptedMessageDelay = 72 * time.Hour

	TimerEncryptedHint = "TMR_ENCRYPTED_HINT"
)

// Register installs every handler on the registry. Call once at boot, then
// Registry.Validate. The dispatcher is the same one the registry will be
// served by; handlers close over it for chained deliveries.
func Register(reg *events.Registry, dispatch *events.Dispatcher) {
	reg.RegisterLifecycle(&events.LifecycleHandler{
		Name:        "onboarding",
		UserCreated: onUserCreated,
	})

	reg.RegisterMission(&events.MissionHandler{
		Def: "MIS_TUT01",
		TargetCreated: func(u *gamestate.User, m *gamestate.Mission, t *gamestate.Target) (bool, error) {
			if !t.Row.Picture {
				return false, nil
			}
			if _, err := u.AddMission("MIS_TUT02"); err != nil {
				return false, err
			}
			return true, nil
		},
	})

	reg.RegisterMission(&events.MissionHandler{
		Def: "MIS_TUT02",
		TargetArrived: func(u *gamestate.User, m *gamestate.Mission, t *gamestate.Target) (bool, error) {
			if !t.Row.Picture || !t.Row.Processed {
				return false, nil
			}
			if _, err := u.AddMessage("MSG_FIRST_PHOTO"); err != nil {
				return false, err
			}
			if _, err := u.AddMission("MIS_SPECIES01"); err != nil {
				return false, err
			}
			return true, nil
		},
	})

	reg.RegisterMission(&events.MissionHandler{
		Def: "MIS_SPECIES01",
		SpeciesID: func(u *gamestate.User, m *gamestate.Mission, speciesKey string) (bool, error) {
			return true, nil
		},
	})

	reg.RegisterMission(&events.MissionHandler{
		Def: "MIS_CRATER01",
		TargetArrived: func(u *gamestate.User, m *gamestate.Mission, t *gamestate.Target) (bool, error) {
			region := u.Scope().Catalog.Regions["RGN_CRATER"]
			if region == nil {
				return false, nil
			}
			return region.Contains(t.Row.Lat, t.Row.Lng), nil
		},
	})

	reg.RegisterTarget(&events.TargetHandler{
		Name:          "region_discovery",
		TargetCreated: discoverRegions,
	})

	reg.RegisterAchievement(&events.AchievementHandler{
		Key: "ACH_FIRST_TARGET",
		TargetCreated: func(u *gamestate.User, a *gamestate.Achievement, t *gamestate.Target) (bool, error) {
			return t.Row.Picture, nil
		},
	})
	reg.RegisterAchievement(&events.AchievementHandler{
		Key: "ACH_FIRST_SPECIES",
		SpeciesID: func(u *gamestate.User, a *gamestate.Achievement, speciesKey string) (bool, error) {
			return true, nil
		},
	})
	reg.RegisterAchievement(&events.AchievementHandler{
		Key: "ACH_FIVE_SPECIES",
		SpeciesID: func(u *gamestate.User, a *gamestate.Achievement, speciesKey string) (bool, error) {
			return u.Species.Len() >= 5, nil
		},
	})
	reg.RegisterAchievement(&events.AchievementHandler{
		Key: "ACH_NIGHT_PHOTO",
		TargetArrived: func(u *gamestate.User, a *gamestate.Achievement, t *gamestate.Target) (bool, error) {
			if !t.Row.Picture || !t.Row.Processed {
				return false, nil
			}
			hour := u.AbsTime(t.Row.ArrivalTime).UTC().Hour()
			return hour < 6 || hour >= 20, nil
		},
	})

	reg.RegisterTimer(&events.TimerHandler{
		Name: TimerEncryptedHint,
		TimerArrivedAt: func(u *gamestate.User) error {
			for _, m := range u.Messages.All() {
				if m.Row.MsgType == "MSG_ENCRYPTED01" {
					return nil
				}
			}
			_, err := u.AddMessage("MSG_ENCRYPTED01")
			return err
		},
	})

	reg.RegisterVoucher(&events.VoucherHandler{
		Key: "VCH_ALL",
		Delivered: func(u *gamestate.User, v *gamestate.VoucherState) error {
			// The all-access pass comes with the upgraded chassis.
			for _, rover := range u.Rovers.All() {
				if rover.Row.RoverKey == "RVR_S1_UPGRADE" {
					return nil
				}
			}
			_, err := u.AddRover("RVR_S1_UPGRADE", landerLat, landerLng)
			if err != nil {
				return err
			}
			return u.RederiveCapabilities()
		},
	})

	registerGift(reg, dispatch, "GFT_S1_PASS")
	registerGift(reg, dispatch, "GFT_ALL_PASS")

	reg.RegisterShop(&events.ShopHandler{
		Name: "voucher_fulfillment",
		InvoicePaid: func(u *gamestate.User, productKey string) error {
			return fulfillProduct(dispatch, u, productKey)
		},
	})

	reg.RegisterProgress(&events.ProgressHandler{
		Name: "progress_log",
		Achieved: func(u *gamestate.User, key, value string) error {
			u.Scope().Log.Info("Progress achieved", "user_id", u.Row.ID, "key", key, "value", value)
			return nil
		},
	})
}

// onUserCreated seeds a fresh account: the starter rover, the tutorial
// mission, the achievement slots, the welcome message, and the delayed
// encrypted transmission.
func onUserCreated(u *gamestate.User) error {
	if _, err := u.AddRover("RVR_S1", landerLat, landerLng); err != nil {
		return err
	}
	if err := u.RederiveCapabilities(); err != nil {
		return err
	}
	if _, err := u.AddMission("MIS_TUT01"); err != nil {
		return err
	}
	for _, key := range []string{"ACH_FIRST_TARGET", "ACH_FIRST_SPECIES", "ACH_FIVE_SPECIES", "ACH_NIGHT_PHOTO"} {
		if _, err := u.AddAchievement(key); err != nil {
			return err
		}
	}
	if _, err := u.AddMessage("MSG_WELCOME"); err != nil {
		return err
	}
	_, err := scheduler.RunOnTimer(u.Scope(), u.Row.ID, TimerEncryptedHint, encryptedMessageDelay)
	return err
}

// discoverRegions reveals catalog regions whose area the new drive path
// crosses, and starts any mission attached to the region.
func discoverRegions(u *gamestate.User, t *gamestate.Target) error {
	for id, region := range u.Scope().Catalog.Regions {
		if _, seen := u.Regions.Get(id); seen {
			continue
		}
		if !region.CrossedBy(t.Row.StartLat, t.Row.StartLng, t.Row.Lat, t.Row.Lng) {
			continue
		}
		if _, err := u.AddRegion(id); err != nil {
			return err
		}
		if region.MissionDef != "" {
			if _, err := u.AddMission(region.MissionDef); err != nil {
				return err
			}
		}
	}
	return nil
}

func registerGift(reg *events.Registry, dispatch *events.Dispatcher, giftType string) {
	reg.RegisterGift(&events.GiftHandler{
		Type: giftType,
		Redeemed: func(u *gamestate.User, gt string) error {
			def := u.Scope().Catalog.GiftTypes[gt]
			if def == nil {
				return nil
			}
			if _, err := dispatch.DeliverVoucher(u, def.VoucherKey); err != nil {
				return err
			}
			if def.Message != "" {
				if _, err := u.AddMessage(def.Message); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

// fulfillProduct converts a paid invoice into its voucher. Gift products
// are fulfilled by the shop service, which creates the gift row instead.
func fulfillProduct(dispatch *events.Dispatcher, u *gamestate.User, productKey string) error {
	product := u.Scope().Catalog.Products[productKey]
	if product == nil || product.VoucherKey == "" {
		return nil
	}
	_, err := dispatch.DeliverVoucher(u, product.VoucherKey)
	return err
}
