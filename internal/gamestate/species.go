package gamestate

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/okapigames/farpoint-backend/internal/types"
)

// RectInput is one detected species bounding box reported by the renderer.
type RectInput struct {
	XMin, YMin   float64
	XMax, YMax   float64
	Density      float64
	SpeciesNum   int
	SubspeciesID int
}

// RecordImageRects stores the renderer's detection rects on a target and
// folds them into the user's species records. Returns the keys of species
// that were newly detected.
func (t *Target) RecordImageRects(rects []RectInput) ([]string, error) {
	u := t.User()
	s := u.scope

	rows := make([]*types.TargetImageRect, 0, len(rects))
	for i, in := range rects {
		if in.XMin > in.XMax || in.YMin > in.YMax {
			return nil, validationf("rect %d has inverted bounds", i)
		}
		if s.Catalog.SpeciesByNum(in.SpeciesNum) == nil {
			return nil, validationf("rect %d references unknown species %d", i, in.SpeciesNum)
		}
		rows = append(rows, &types.TargetImageRect{
			ID:           uuid.New(),
			TargetID:     t.Row.ID,
			Seq:          len(t.Rects) + i,
			XMin:         in.XMin,
			YMin:         in.YMin,
			XMax:         in.XMax,
			YMax:         in.YMax,
			Density:      in.Density,
			SpeciesNum:   in.SpeciesNum,
			SubspeciesID: in.SubspeciesID,
		})
	}
	if err := s.Repos.Targets.CreateRects(s.Ctx, s.Tx, rows); err != nil {
		return nil, fmt.Errorf("store image rects: %w", err)
	}
	t.Rects = append(t.Rects, rows...)

	// Aggregate per species, then apply once each.
	counts := make(map[int]int)
	subspecies := make(map[int]map[int]bool)
	var order []int
	for _, row := range rows {
		if counts[row.SpeciesNum] == 0 {
			order = append(order, row.SpeciesNum)
			subspecies[row.SpeciesNum] = make(map[int]bool)
		}
		counts[row.SpeciesNum]++
		if row.SubspeciesID != 0 {
			subspecies[row.SpeciesNum][row.SubspeciesID] = true
		}
	}

	var newKeys []string
	for _, num := range order {
		key, created, err := u.recordSpeciesDetection(num, counts[num], subspecies[num])
		if err != nil {
			return nil, err
		}
		if created {
			newKeys = append(newKeys, key)
		}
	}
	return newKeys, nil
}

// recordSpeciesDetection upserts the species record for one species num,
// merging subspecies ids and bumping the rect count.
func (u *User) recordSpeciesDetection(num, rectCount int, subspeciesIDs map[int]bool) (string, bool, error) {
	s := u.scope
	def := s.Catalog.SpeciesByNum(num)
	if def == nil {
		return "", false, invariantf("unknown species num %d", num)
	}

	record, ok := u.Species.Get(def.Key)
	if !ok {
		subJSON, err := marshalSubspecies(nil, subspeciesIDs)
		if err != nil {
			return "", false, err
		}
		row := &types.SpeciesRecord{
			ID:         uuid.New(),
			UserID:     u.Row.ID,
			SpeciesNum: num,
			SpeciesKey: def.Key,
			Subspecies: subJSON,
			DetectedAt: s.Clock.Now(),
			RectCount:  rectCount,
		}
		if _, err := s.Repos.Species.Create(s.Ctx, s.Tx, row); err != nil {
			return "", false, fmt.Errorf("create species record: %w", err)
		}
		record = &Species{Row: row, user: u}
		u.Species.Add(record)
		s.Chips.Add(record.Path(), record.wire())
		return def.Key, true, nil
	}

	merged := make(map[int]bool, len(subspeciesIDs))
	for id := range subspeciesIDs {
		merged[id] = true
	}
	grew := false
	for _, id := range record.SubspeciesIDs() {
		if !merged[id] {
			merged[id] = true
		}
	}
	for id := range subspeciesIDs {
		known := false
		for _, existing := range record.SubspeciesIDs() {
			if existing == id {
				known = true
				break
			}
		}
		if !known {
			grew = true
		}
	}

	record.Row.RectCount += rectCount
	changes := map[string]interface{}{"rect_count": record.Row.RectCount}
	chip := map[string]interface{}{"rect_count": record.Row.RectCount}
	if grew {
		subJSON, err := marshalSubspecies(record.SubspeciesIDs(), subspeciesIDs)
		if err != nil {
			return "", false, err
		}
		record.Row.Subspecies = subJSON
		changes["subspecies"] = subJSON
		chip["subspecies"] = record.SubspeciesIDs()
	}
	if err := s.Repos.Species.UpdateFields(s.Ctx, s.Tx, record.Row.ID, changes); err != nil {
		return "", false, fmt.Errorf("update species record: %w", err)
	}
	s.Chips.Mod(record.Path(), chip)
	return def.Key, false, nil
}

func marshalSubspecies(existing []int, extra map[int]bool) ([]byte, error) {
	set := make(map[int]bool, len(existing)+len(extra))
	for _, id := range existing {
		set[id] = true
	}
	for id := range extra {
		set[id] = true
	}
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("marshal subspecies: %w", err)
	}
	return out, nil
}
