package gamestate

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/okapigames/farpoint-backend/internal/types"
)

// DeliverVoucher grants a voucher. Delivery is idempotent for an
// already-held key, rejected for a key superseded by a held voucher, and
// otherwise inserts the row, rederives capabilities, and sends the
// delivery message.
func (u *User) DeliverVoucher(key string) (*VoucherState, error) {
	def := u.scope.Catalog.Vouchers[key]
	if def == nil {
		return nil, invariantf("unknown voucher key %q", key)
	}
	if existing, ok := u.Vouchers.Get(key); ok {
		u.scope.Log.Warn("Voucher already delivered, ignoring", "user_id", u.Row.ID, "voucher", key)
		return existing, nil
	}
	for _, held := range u.Vouchers.All() {
		heldDef := u.scope.Catalog.Vouchers[held.Row.VoucherKey]
		if heldDef == nil {
			continue
		}
		for _, superseded := range heldDef.NotAvailableAfter {
			if superseded == key {
				return nil, validationf("voucher %s is no longer available after %s", key, held.Row.VoucherKey)
			}
		}
	}

	row := &types.Voucher{
		ID:          uuid.New(),
		UserID:      u.Row.ID,
		VoucherKey:  key,
		DeliveredAt: u.scope.Clock.Now(),
	}
	if _, err := u.scope.Repos.Vouchers.Create(u.scope.Ctx, u.scope.Tx, row); err != nil {
		return nil, fmt.Errorf("deliver voucher: %w", err)
	}
	voucher := &VoucherState{Row: row, user: u}
	u.Vouchers.Add(voucher)
	u.scope.Chips.Add(voucher.Path(), voucher.wire())

	if err := u.RederiveCapabilities(); err != nil {
		return nil, err
	}
	if def.DeliveryMessage != "" {
		if _, err := u.AddMessage(def.DeliveryMessage); err != nil {
			return nil, err
		}
	}
	return voucher, nil
}

// CurrentVoucherLevel resolves the single dominant voucher: the held
// vouchers minus those superseded by another held voucher must leave
// exactly one candidate (or none, level 0).
func (u *User) CurrentVoucherLevel() (int, string, error) {
	superseded := make(map[string]bool)
	for _, held := range u.Vouchers.All() {
		def := u.scope.Catalog.Vouchers[held.Row.VoucherKey]
		if def == nil {
			continue
		}
		for _, key := range def.NotAvailableAfter {
			superseded[key] = true
		}
	}
	var candidates []*VoucherState
	for _, held := range u.Vouchers.All() {
		if !superseded[held.Row.VoucherKey] {
			candidates = append(candidates, held)
		}
	}
	switch len(candidates) {
	case 0:
		return 0, "", nil
	case 1:
		def := u.scope.Catalog.Vouchers[candidates[0].Row.VoucherKey]
		if def == nil {
			return 0, "", invariantf("held voucher %q missing from catalog", candidates[0].Row.VoucherKey)
		}
		return def.Level, def.Key, nil
	default:
		keys := make([]string, len(candidates))
		for i, c := range candidates {
			keys[i] = c.Row.VoucherKey
		}
		return 0, "", fmt.Errorf("%w: %v", ErrVoucherAmbiguous, keys)
	}
}

// RederiveCapabilities recomputes every capability row from the catalog,
// the user's rover chassis, and the held vouchers. Rows are created for
// newly available capabilities; changed rows emit MOD chips. Consumed uses
// are never reset.
func (u *User) RederiveCapabilities() error {
	chassis := make(map[string]bool)
	for _, rover := range u.Rovers.All() {
		chassis[rover.Row.Chassis] = true
	}
	held := make(map[string]bool)
	for _, voucher := range u.Vouchers.All() {
		held[voucher.Row.VoucherKey] = true
	}

	for _, def := range u.scope.Catalog.Capabilities {
		available := false
		for _, c := range def.Chassis {
			if chassis[c] {
				available = true
				break
			}
		}
		unlimited := false
		for _, v := range def.Vouchers {
			if held[v] {
				unlimited = true
				break
			}
		}

		state, ok := u.Capabilities.Get(def.Key)
		if !ok {
			if !available {
				continue
			}
			row := &types.Capability{
				ID:            uuid.New(),
				UserID:        u.Row.ID,
				CapabilityKey: def.Key,
				Available:     true,
				Unlimited:     unlimited,
				FreeUses:      def.FreeUses,
			}
			if _, err := u.scope.Repos.Capabilities.Create(u.scope.Ctx, u.scope.Tx, row); err != nil {
				return fmt.Errorf("create capability: %w", err)
			}
			state = &CapabilityState{Row: row, user: u}
			u.Capabilities.Add(state)
			u.scope.Chips.Add(state.Path(), state.wire())
			continue
		}

		changes := map[string]interface{}{}
		if state.Row.Available != available {
			state.Row.Available = available
			changes["available"] = available
		}
		if state.Row.Unlimited != unlimited {
			state.Row.Unlimited = unlimited
			changes["unlimited"] = unlimited
		}
		if state.Row.FreeUses != def.FreeUses {
			state.Row.FreeUses = def.FreeUses
			changes["free_uses"] = def.FreeUses
		}
		if len(changes) == 0 {
			continue
		}
		if err := u.scope.Repos.Capabilities.UpdateFields(u.scope.Ctx, u.scope.Tx, state.Row.ID, changes); err != nil {
			return fmt.Errorf("update capability: %w", err)
		}
		u.scope.Chips.Mod(state.Path(), changes)
	}
	return nil
}
