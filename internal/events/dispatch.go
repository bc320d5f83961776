package events

import (
	"fmt"

	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/logger"
)

// Dispatcher fans events out to the registry. Errors from handlers
// propagate unswallowed so the enclosing transaction rolls back.
type Dispatcher struct {
	reg *Registry
	log *logger.Logger
}

func NewDispatcher(reg *Registry, log *logger.Logger) *Dispatcher {
	return &Dispatcher{reg: reg, log: log}
}

// FireTarget routes a target lifecycle event: every target handler, then
// the keyed mission and achievement handlers. Mission and achievement
// iteration takes a snapshot, and done/achieved state is re-checked right
// before each invocation since an earlier handler in the same dispatch may
// already have closed it.
func (d *Dispatcher) FireTarget(kind Kind, u *gamestate.User, t *gamestate.Target) error {
	for _, h := range d.reg.Targets {
		hook := targetHook(h, kind)
		if hook == nil {
			continue
		}
		if err := hook(u, t); err != nil {
			return fmt.Errorf("target handler %s on %s: %w", h.Name, kind, err)
		}
	}
	for _, m := range u.Missions.All() {
		if m.Row.Done {
			continue
		}
		h := d.reg.Missions[m.Row.MissionDef]
		if h == nil {
			continue
		}
		hook := missionTargetHook(h, kind)
		if hook == nil {
			continue
		}
		done, err := hook(u, m, t)
		if err != nil {
			return fmt.Errorf("mission handler %s on %s: %w", m.Row.MissionDef, kind, err)
		}
		if done {
			if err := m.MarkDone(); err != nil {
				return err
			}
		}
	}
	for _, a := range u.Achievements.All() {
		if a.Achieved() {
			continue
		}
		h := d.reg.Achievements[a.Row.AchievementKey]
		if h == nil {
			continue
		}
		hook := achievementTargetHook(h, kind)
		if hook == nil {
			continue
		}
		achieved, err := hook(u, a, t)
		if err != nil {
			return fmt.Errorf("achievement handler %s on %s: %w", a.Row.AchievementKey, kind, err)
		}
		if achieved {
			if err := a.MarkAchieved(); err != nil {
				return err
			}
		}
	}
	return nil
}

// FireSpeciesID routes a species identification: the matching species
// handler, then mission and achievement SPECIES_ID hooks.
func (d *Dispatcher) FireSpeciesID(u *gamestate.User, speciesKey string, t *gamestate.Target) error {
	if h := d.reg.Species[speciesKey]; h != nil {
		sp, ok := u.Species.Get(speciesKey)
		if !ok {
			return fmt.Errorf("species %s fired without a record", speciesKey)
		}
		if err := h.Detected(u, sp, t); err != nil {
			return fmt.Errorf("species handler %s: %w", speciesKey, err)
		}
	}
	for _, m := range u.Missions.All() {
		if m.Row.Done {
			continue
		}
		h := d.reg.Missions[m.Row.MissionDef]
		if h == nil || h.SpeciesID == nil {
			continue
		}
		done, err := h.SpeciesID(u, m, speciesKey)
		if err != nil {
			return fmt.Errorf("mission handler %s on SPECIES_ID: %w", m.Row.MissionDef, err)
		}
		if done {
			if err := m.MarkDone(); err != nil {
				return err
			}
		}
	}
	for _, a := range u.Achievements.All() {
		if a.Achieved() {
			continue
		}
		h := d.reg.Achievements[a.Row.AchievementKey]
		if h == nil || h.SpeciesID == nil {
			continue
		}
		achieved, err := h.SpeciesID(u, a, speciesKey)
		if err != nil {
			return fmt.Errorf("achievement handler %s on SPECIES_ID: %w", a.Row.AchievementKey, err)
		}
		if achieved {
			if err := a.MarkAchieved(); err != nil {
				return err
			}
		}
	}
	return nil
}

// MissionStarted gives the mission's handler a chance to react to its own
// start (seeding follow-up state).
func (d *Dispatcher) MissionStarted(u *gamestate.User, m *gamestate.Mission) error {
	h := d.reg.Missions[m.Row.MissionDef]
	if h == nil || h.Started == nil {
		return nil
	}
	return h.Started(u, m)
}

func (d *Dispatcher) ProgressAchieved(u *gamestate.User, key, value string) error {
	for _, h := range d.reg.Progress {
		if err := h.Achieved(u, key, value); err != nil {
			return fmt.Errorf("progress handler %s: %w", h.Name, err)
		}
	}
	return nil
}

func (d *Dispatcher) TimerArrived(u *gamestate.User, name string) error {
	h := d.reg.Timers[name]
	if h == nil {
		d.log.Warn("Timer fired with no handler", "timer", name, "user_id", u.Row.ID)
		return nil
	}
	return h.TimerArrivedAt(u)
}

func (d *Dispatcher) VoucherDelivered(u *gamestate.User, v *gamestate.VoucherState) error {
	h := d.reg.Vouchers[v.Row.VoucherKey]
	if h == nil || h.Delivered == nil {
		return nil
	}
	return h.Delivered(u, v)
}

// CapabilityUnlocked fires the capability's Unlimited hook once the state
// actually holds the unlimited flag. A capability the user's chassis does
// not support has no state row and stays quiet.
func (d *Dispatcher) CapabilityUnlocked(u *gamestate.User, capKey string) error {
	h := d.reg.Capabilities[capKey]
	if h == nil || h.Unlimited == nil {
		return nil
	}
	c, ok := u.Capabilities.Get(capKey)
	if !ok || !c.Row.Unlimited {
		return nil
	}
	if err := h.Unlimited(u, c); err != nil {
		return fmt.Errorf("capability handler %s: %w", capKey, err)
	}
	return nil
}

// DeliverVoucher runs the gamestate delivery and, for a newly granted
// voucher, fires its Delivered hook plus the Unlimited hooks of the
// capabilities the voucher unlocks. Redelivery stays a warning no-op and
// does not re-fire the hooks.
func (d *Dispatcher) DeliverVoucher(u *gamestate.User, key string) (*gamestate.VoucherState, error) {
	_, alreadyHeld := u.Vouchers.Get(key)
	v, err := u.DeliverVoucher(key)
	if err != nil || alreadyHeld {
		return v, err
	}
	if err := d.VoucherDelivered(u, v); err != nil {
		return nil, err
	}
	for _, capKey := range u.Scope().Catalog.CapabilitiesForVoucher(key) {
		if err := d.CapabilityUnlocked(u, capKey); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (d *Dispatcher) GiftRedeemed(u *gamestate.User, giftType string) error {
	h := d.reg.Gifts[giftType]
	if h == nil {
		return fmt.Errorf("gift type %s has no handler", giftType)
	}
	return h.Redeemed(u, giftType)
}

func (d *Dispatcher) InvoicePaid(u *gamestate.User, productKey string) error {
	for _, h := range d.reg.Shop {
		if err := h.InvoicePaid(u, productKey); err != nil {
			return fmt.Errorf("shop handler %s: %w", h.Name, err)
		}
	}
	return nil
}

func (d *Dispatcher) UserCreated(u *gamestate.User) error {
	for _, h := range d.reg.Lifecycle {
		if h.UserCreated == nil {
			continue
		}
		if err := h.UserCreated(u); err != nil {
			return fmt.Errorf("lifecycle handler %s on user_created: %w", h.Name, err)
		}
	}
	return nil
}

func (d *Dispatcher) UserValidated(u *gamestate.User) error {
	for _, h := range d.reg.Lifecycle {
		if h.UserValidated == nil {
			continue
		}
		if err := h.UserValidated(u); err != nil {
			return fmt.Errorf("lifecycle handler %s on user_validated: %w", h.Name, err)
		}
	}
	return nil
}

func targetHook(h *TargetHandler, kind Kind) func(*gamestate.User, *gamestate.Target) error {
	switch kind {
	case TargetCreated:
		return h.TargetCreated
	case TargetEnRoute:
		return h.TargetEnRoute
	case TargetArrived:
		return h.TargetArrived
	}
	return nil
}

func missionTargetHook(h *MissionHandler, kind Kind) func(*gamestate.User, *gamestate.Mission, *gamestate.Target) (bool, error) {
	switch kind {
	case TargetCreated:
		return h.TargetCreated
	case TargetEnRoute:
		return h.TargetEnRoute
	case TargetArrived:
		return h.TargetArrived
	}
	return nil
}

func achievementTargetHook(h *AchievementHandler, kind Kind) func(*gamestate.User, *gamestate.Achievement, *gamestate.Target) (bool, error) {
	switch kind {
	case TargetCreated:
		return h.TargetCreated
	case TargetArrived:
		return h.TargetArrived
	}
	return nil
}
