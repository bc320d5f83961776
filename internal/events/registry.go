package events

import (
	"fmt"

	"github.com/okapigames/farpoint-backend/internal/content"
	"github.com/okapigames/farpoint-backend/internal/gamestate"
)

// Kind names a target lifecycle event.
type Kind string

const (
	TargetCreated Kind = "TARGET_CREATED"
	TargetEnRoute Kind = "TARGET_EN_ROUTE"
	TargetArrived Kind = "TARGET_ARRIVED"
	SpeciesID     Kind = "SPECIES_ID"
)

// Handlers are plain records of optional hooks. A nil hook means the
// handler does not care about that event. Mission and achievement hooks
// return true to mark the owning row done/achieved; they may also mark it
// themselves and return false.

type MissionHandler struct {
	Def string

	Started       func(u *gamestate.User, m *gamestate.Mission) error
	TargetCreated func(u *gamestate.User, m *gamestate.Mission, t *gamestate.Target) (bool, error)
	TargetEnRoute func(u *gamestate.User, m *gamestate.Mission, t *gamestate.Target) (bool, error)
	TargetArrived func(u *gamestate.User, m *gamestate.Mission, t *gamestate.Target) (bool, error)
	SpeciesID     func(u *gamestate.User, m *gamestate.Mission, speciesKey string) (bool, error)
}

type AchievementHandler struct {
	Key string

	TargetCreated func(u *gamestate.User, a *gamestate.Achievement, t *gamestate.Target) (bool, error)
	TargetArrived func(u *gamestate.User, a *gamestate.Achievement, t *gamestate.Target) (bool, error)
	SpeciesID     func(u *gamestate.User, a *gamestate.Achievement, speciesKey string) (bool, error)
}

// TargetHandler hooks run for every registered handler on every target
// event; they are not keyed.
type TargetHandler struct {
	Name string

	TargetCreated func(u *gamestate.User, t *gamestate.Target) error
	TargetEnRoute func(u *gamestate.User, t *gamestate.Target) error
	TargetArrived func(u *gamestate.User, t *gamestate.Target) error
}

type SpeciesHandler struct {
	Key string

	Detected func(u *gamestate.User, sp *gamestate.Species, t *gamestate.Target) error
}

type ProgressHandler struct {
	Name string

	Achieved func(u *gamestate.User, key, value string) error
}

type TimerHandler struct {
	Name string

	TimerArrivedAt func(u *gamestate.User) error
}

type VoucherHandler struct {
	Key string

	Delivered func(u *gamestate.User, v *gamestate.VoucherState) error
}

// CapabilityHandler hooks run when a delivered voucher flips the keyed
// capability to unlimited.
type CapabilityHandler struct {
	Key string

	Unlimited func(u *gamestate.User, c *gamestate.CapabilityState) error
}

type GiftHandler struct {
	Type string

	Redeemed func(u *gamestate.User, giftType string) error
}

type ShopHandler struct {
	Name string

	InvoicePaid func(u *gamestate.User, productKey string) error
}

type LifecycleHandler struct {
	Name string

	UserCreated   func(u *gamestate.User) error
	UserValidated func(u *gamestate.User) error
}

// Registry holds every callback family. It is assembled once at process
// start and validated before serving.
type Registry struct {
	Missions     map[string]*MissionHandler
	Achievements map[string]*AchievementHandler
	Targets      []*TargetHandler
	Species      map[string]*SpeciesHandler
	Progress     []*ProgressHandler
	Timers       map[string]*TimerHandler
	Vouchers     map[string]*VoucherHandler
	Capabilities map[string]*CapabilityHandler
	Gifts        map[string]*GiftHandler
	Shop         []*ShopHandler
	Lifecycle    []*LifecycleHandler
}

func NewRegistry() *Registry {
	return &Registry{
		Missions:     make(map[string]*MissionHandler),
		Achievements: make(map[string]*AchievementHandler),
		Species:      make(map[string]*SpeciesHandler),
		Timers:       make(map[string]*TimerHandler),
		Vouchers:     make(map[string]*VoucherHandler),
		Capabilities: make(map[string]*CapabilityHandler),
		Gifts:        make(map[string]*GiftHandler),
	}
}

func (r *Registry) RegisterMission(h *MissionHandler) {
	r.Missions[h.Def] = h
}

func (r *Registry) RegisterAchievement(h *AchievementHandler) {
	r.Achievements[h.Key] = h
}

func (r *Registry) RegisterTarget(h *TargetHandler) {
	r.Targets = append(r.Targets, h)
}

func (r *Registry) RegisterSpecies(h *SpeciesHandler) {
	r.Species[h.Key] = h
}

func (r *Registry) RegisterProgress(h *ProgressHandler) {
	r.Progress = append(r.Progress, h)
}

func (r *Registry) RegisterTimer(h *TimerHandler) {
	r.Timers[h.Name] = h
}

func (r *Registry) RegisterVoucher(h *VoucherHandler) {
	r.Vouchers[h.Key] = h
}

func (r *Registry) RegisterCapability(h *CapabilityHandler) {
	r.Capabilities[h.Key] = h
}

func (r *Registry) RegisterGift(h *GiftHandler) {
	r.Gifts[h.Type] = h
}

func (r *Registry) RegisterShop(h *ShopHandler) {
	r.Shop = append(r.Shop, h)
}

func (r *Registry) RegisterLifecycle(h *LifecycleHandler) {
	r.Lifecycle = append(r.Lifecycle, h)
}

// Validate cross-checks every handler against the catalog at boot: keys
// must name real content, required identity fields must be set, and each
// handler must carry at least one hook. A broken registry is a startup
// error, never a runtime surprise.
func (r *Registry) Validate(catalog *content.Catalog) error {
	for def, h := range r.Missions {
		if h.Def == "" || h.Def != def {
			return fmt.Errorf("mission handler registered under %q carries def %q", def, h.Def)
		}
		if catalog.Missions[def] == nil {
			return fmt.Errorf("mission handler %q has no catalog mission", def)
		}
		if h.Started == nil && h.TargetCreated == nil && h.TargetEnRoute == nil &&
			h.TargetArrived == nil && h.SpeciesID == nil {
			return fmt.Errorf("mission handler %q has no hooks", def)
		}
	}
	for key, h := range r.Achievements {
		if h.Key == "" || h.Key != key {
			return fmt.Errorf("achievement handler registered under %q carries key %q", key, h.Key)
		}
		if catalog.Achievements[key] == nil {
			return fmt.Errorf("achievement handler %q has no catalog achievement", key)
		}
		if h.TargetCreated == nil && h.TargetArrived == nil && h.SpeciesID == nil {
			return fmt.Errorf("achievement handler %q has no hooks", key)
		}
	}
	for i, h := range r.Targets {
		if h.Name == "" {
			return fmt.Errorf("target handler %d has no name", i)
		}
		if h.TargetCreated == nil && h.TargetEnRoute == nil && h.TargetArrived == nil {
			return fmt.Errorf("target handler %q has no hooks", h.Name)
		}
	}
	for key, h := range r.Species {
		if h.Key != key || h.Detected == nil {
			return fmt.Errorf("species handler %q is incomplete", key)
		}
		if catalog.Species[key] == nil {
			return fmt.Errorf("species handler %q has no catalog species", key)
		}
	}
	for i, h := range r.Progress {
		if h.Name == "" || h.Achieved == nil {
			return fmt.Errorf("progress handler %d is incomplete", i)
		}
	}
	for name, h := range r.Timers {
		if h.Name != name || h.TimerArrivedAt == nil {
			return fmt.Errorf("timer handler %q is incomplete", name)
		}
	}
	for key, h := range r.Vouchers {
		if h.Key != key || h.Delivered == nil {
			return fmt.Errorf("voucher handler %q is incomplete", key)
		}
		if catalog.Vouchers[key] == nil {
			return fmt.Errorf("voucher handler %q has no catalog voucher", key)
		}
	}
	for key, h := range r.Capabilities {
		if h.Key != key || h.Unlimited == nil {
			return fmt.Errorf("capability handler %q is incomplete", key)
		}
		if catalog.Capabilities[key] == nil {
			return fmt.Errorf("capability handler %q has no catalog capability", key)
		}
	}
	for giftType, h := range r.Gifts {
		if h.Type != giftType || h.Redeemed == nil {
			return fmt.Errorf("gift handler %q is incomplete", giftType)
		}
		if catalog.GiftTypes[giftType] == nil {
			return fmt.Errorf("gift handler %q has no catalog gift type", giftType)
		}
	}
	for i, h := range r.Shop {
		if h.Name == "" || h.InvoicePaid == nil {
			return fmt.Errorf("shop handler %d is incomplete", i)
		}
	}
	for i, h := range r.Lifecycle {
		if h.Name == "" || (h.UserCreated == nil && h.UserValidated == nil) {
			return fmt.Errorf("lifecycle handler %d is incomplete", i)
		}
	}
	return nil
}
