package gamestate

import (
	"fmt"

	"github.com/google/uuid"
)

// Serialize renders the complete gamestate tree in the shape the client
// holds in memory. Chips patch this exact structure, so every keyed child
// appears under the same key its chip paths use.
func (u *User) Serialize() map[string]interface{} {
	out := map[string]interface{}{
		"id":         u.Row.ID.String(),
		"email":      u.Row.Email,
		"first_name": u.Row.FirstName,
		"last_name":  u.Row.LastName,
		"valid":      u.Row.Valid,
		"epoch":      u.Row.Epoch.Unix(),
		"created_at": u.Row.CreatedAt.Unix(),
	}

	rovers := make(map[string]interface{}, u.Rovers.Len())
	for _, rover := range u.Rovers.All() {
		rw := rover.wire()
		targets := make(map[string]interface{}, rover.Targets.Len())
		for _, target := range rover.Targets.All() {
			targets[target.Key()] = target.wire()
		}
		rw["targets"] = targets
		rovers[rover.Key()] = rw
	}
	out["rovers"] = rovers

	out["missions"] = collectionWire(u.Missions, func(m *Mission) map[string]interface{} { return m.wire() })
	out["messages"] = collectionWire(u.Messages, func(m *Message) map[string]interface{} { return m.wire() })
	out["species"] = collectionWire(u.Species, func(s *Species) map[string]interface{} { return s.wire() })
	out["achievements"] = collectionWire(u.Achievements, func(a *Achievement) map[string]interface{} { return a.wire() })
	out["capabilities"] = collectionWire(u.Capabilities, func(c *CapabilityState) map[string]interface{} { return c.wire() })
	out["vouchers"] = collectionWire(u.Vouchers, func(v *VoucherState) map[string]interface{} { return v.wire() })
	out["progress"] = collectionWire(u.Progress, func(p *Progress) map[string]interface{} { return p.wire() })
	out["regions"] = collectionWire(u.Regions, func(r *Region) map[string]interface{} { return r.wire() })

	tiles := make(map[string]interface{})
	for _, tile := range u.MapTiles {
		key := fmt.Sprintf("%d,%d,%d", tile.Zoom, tile.X, tile.Y)
		chain, _ := tiles[key].(map[string]interface{})
		if chain == nil {
			chain = make(map[string]interface{})
			tiles[key] = chain
		}
		chain[fmt.Sprintf("%d", tile.ArrivalTime)] = mapTileWire(tile)
	}
	out["map_tiles"] = tiles

	if level, key, err := u.CurrentVoucherLevel(); err == nil {
		out["voucher_level"] = level
		if key != "" {
			out["voucher_key"] = key
		}
	}
	return out
}

// RoverWiresEndingAt renders every rover with its ordered target list, the
// rover owning targetID placed last with its list cut at that target. The
// consumer replays the drives in sequence, so targetID must close the
// final rover's list; a breach of that ordering is an invariant error.
func (u *User) RoverWiresEndingAt(targetID uuid.UUID) ([]map[string]interface{}, error) {
	var owner *Rover
	for _, rover := range u.Rovers.All() {
		if _, ok := rover.Targets.Get(targetID.String()); ok {
			owner = rover
			break
		}
	}
	if owner == nil {
		return nil, invariantf("target %s has no owning rover", targetID)
	}

	wireRover := func(rover *Rover, cutAt string) map[string]interface{} {
		rw := rover.wire()
		targets := make([]map[string]interface{}, 0, rover.Targets.Len())
		for _, target := range rover.Targets.All() {
			targets = append(targets, target.wire())
			if cutAt != "" && target.Key() == cutAt {
				break
			}
		}
		rw["targets"] = targets
		return rw
	}

	out := make([]map[string]interface{}, 0, u.Rovers.Len())
	for _, rover := range u.Rovers.All() {
		if rover == owner {
			continue
		}
		out = append(out, wireRover(rover, ""))
	}
	out = append(out, wireRover(owner, targetID.String()))

	last, _ := out[len(out)-1]["targets"].([]map[string]interface{})
	if len(last) == 0 || last[len(last)-1]["id"] != targetID.String() {
		return nil, invariantf("rover list does not end at target %s", targetID)
	}
	return out, nil
}

func collectionWire[T Keyed](c *Collection[T], wire func(T) map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, c.Len())
	for _, item := range c.All() {
		out[item.Key()] = wire(item)
	}
	return out
}
