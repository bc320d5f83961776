package gamestate

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okapigames/farpoint-backend/internal/content"
	"github.com/okapigames/farpoint-backend/internal/types"
)

// ArrivalLeewaySeconds is subtracted from deliver_at on the image-bearing
// chips so the client has the photo by the moment the countdown hits zero.
const ArrivalLeewaySeconds = 5

type CreateTargetParams struct {
	Lat          float64
	Lng          float64
	ArrivalDelta int64 // seconds from now until arrival
	Yaw          float64
	Pitch        float64
	Picture      bool
	Metadata     map[string]string
}

// CreateTarget schedules a photo target on the rover. It validates the
// rover's behavioral profile, meters gated feature metadata against
// capabilities, persists the rows, and emits the ADD chip plus the
// future-dated arrival MOD.
func (r *Rover) CreateTarget(p CreateTargetParams) (*Target, error) {
	u := r.user
	s := u.scope
	profile := r.Profile()
	if profile == nil {
		return nil, invariantf("rover %s has unknown profile %q", r.Row.ID, r.Row.RoverKey)
	}

	if p.Picture && r.UnarrivedPictureTargets() >= profile.MaxUnarrivedTargets {
		return nil, validationf("too many pending photos: limit is %d", profile.MaxUnarrivedTargets)
	}

	// Start where the previous target ends, or at the lander.
	startLat, startLng := r.Row.LanderLat, r.Row.LanderLng
	nowSec := u.NowSeconds()
	startSec := nowSec
	if last := r.LastTarget(); last != nil {
		startLat, startLng = last.Row.Lat, last.Row.Lng
		if last.Row.ArrivalTime > startSec {
			startSec = last.Row.ArrivalTime
		}
	}

	arrivalSec := nowSec + p.ArrivalDelta
	travel := arrivalSec - startSec
	if travel < profile.MinTravelSeconds || travel > profile.MaxTravelSeconds {
		return nil, validationf("travel time %ds outside [%d, %d]", travel, profile.MinTravelSeconds, profile.MaxTravelSeconds)
	}
	if dist := content.Distance(startLat, startLng, p.Lat, p.Lng); dist > profile.MaxTravelDistance {
		return nil, validationf("destination is too far from the rover")
	}

	metadata, err := r.meterFeatureMetadata(profile, p.Metadata)
	if err != nil {
		return nil, err
	}

	row := &types.Target{
		ID:          uuid.New(),
		RoverID:     r.Row.ID,
		StartLat:    startLat,
		StartLng:    startLng,
		Lat:         p.Lat,
		Lng:         p.Lng,
		Yaw:         p.Yaw,
		Pitch:       p.Pitch,
		StartTime:   startSec,
		ArrivalTime: arrivalSec,
		RenderAt:    u.AbsTime(startSec),
		Picture:     p.Picture,
		UserCreated: true,
		CreatedAt:   s.Clock.Now(),
		UpdatedAt:   s.Clock.Now(),
	}
	if _, err := s.Repos.Targets.Create(s.Ctx, s.Tx, row); err != nil {
		return nil, fmt.Errorf("create target: %w", err)
	}
	mdRows := make([]*types.TargetMetadata, 0, len(metadata))
	for k, v := range metadata {
		mdRows = append(mdRows, &types.TargetMetadata{ID: uuid.New(), TargetID: row.ID, Key: k, Value: v})
	}
	if err := s.Repos.Targets.CreateMetadata(s.Ctx, s.Tx, mdRows); err != nil {
		return nil, fmt.Errorf("create target metadata: %w", err)
	}

	target := &Target{Row: row, rover: r, Metadata: metadata}
	r.Targets.Add(target)

	s.Chips.Add(target.Path(), target.wire())
	// The client flips the target to arrived at the moment the rover does.
	s.Chips.ModAt(target.Path(), map[string]interface{}{"arrived": true},
		u.AbsTime(arrivalSec))

	if err := r.checkOrdering(); err != nil {
		return nil, err
	}
	return target, nil
}

// meterFeatureMetadata applies capability metering: a gated metadata key is
// kept only when the gating capability has a free use (or is unlimited), in
// which case the use is consumed. Unsupported or exhausted keys are stripped
// with a warning, never an error.
func (r *Rover) meterFeatureMetadata(profile *content.RoverProfile, metadata map[string]string) (map[string]string, error) {
	u := r.user
	s := u.scope
	out := make(map[string]string, len(metadata))
	for key, value := range metadata {
		capDef := s.Catalog.CapabilityForFeature(key)
		if capDef == nil {
			out[key] = value
			continue
		}
		supported := false
		for _, feature := range profile.Features {
			if feature == key {
				supported = true
				break
			}
		}
		capState, _ := u.Capabilities.Get(capDef.Key)
		if !supported || capState == nil || !capState.HasFreeUse() {
			s.Log.Warn("Stripping gated target metadata key",
				"user_id", u.Row.ID, "rover_id", r.Row.ID, "key", key, "capability", capDef.Key)
			continue
		}
		if !capState.Row.Unlimited {
			if err := capState.incrementUses(); err != nil {
				return nil, err
			}
		}
		out[key] = value
	}
	return out, nil
}

func (c *CapabilityState) incrementUses() error {
	s := c.user.scope
	next := c.Row.Uses + 1
	if next > c.Row.FreeUses && !c.Row.Unlimited {
		return invariantf("capability %s uses %d would exceed free_uses %d", c.Row.CapabilityKey, next, c.Row.FreeUses)
	}
	c.Row.Uses = next
	if err := s.Repos.Capabilities.UpdateFields(s.Ctx, s.Tx, c.Row.ID,
		map[string]interface{}{"uses": next}); err != nil {
		return fmt.Errorf("increment capability uses: %w", err)
	}
	s.Chips.Mod(c.Path(), map[string]interface{}{"uses": next})
	return nil
}

// checkOrdering asserts the per-rover target ordering invariant after a
// mutation. Breaches surface as typed errors, not panics.
func (r *Rover) checkOrdering() error {
	var prev *Target
	for _, t := range r.Targets.All() {
		if t.Row.ArrivalTime < t.Row.StartTime {
			return invariantf("target %s arrives before it starts", t.Row.ID)
		}
		if prev != nil && t.Row.StartTime < prev.Row.ArrivalTime {
			return invariantf("target %s starts before previous target arrives", t.Row.ID)
		}
		prev = t
	}
	return nil
}

// Abort cancels a pending target. Later targets on the same rover are
// deleted too, since their start positions no longer exist. The caller
// removes their deferred arrival rows.
func (t *Target) Abort() ([]uuid.UUID, error) {
	u := t.User()
	s := u.scope
	if !t.CanAbort() {
		return nil, validationf("target can no longer be aborted")
	}
	var doomed []*Target
	for _, other := range t.rover.Targets.All() {
		if other.Row.StartTime >= t.Row.StartTime {
			doomed = append(doomed, other)
		}
	}
	ids := make([]uuid.UUID, 0, len(doomed))
	for _, d := range doomed {
		ids = append(ids, d.Row.ID)
	}
	if err := s.Repos.Targets.DeleteByIDs(s.Ctx, s.Tx, ids); err != nil {
		return nil, fmt.Errorf("abort target: %w", err)
	}
	for _, d := range doomed {
		s.Chips.Delete(d.Path())
		t.rover.Targets.Remove(d.Key())
	}
	return ids, nil
}

// MarkEnRoute transitions the target at its start time; fired from the
// TARGET_EN_ROUTE event path.
func (t *Target) MarkEnRoute() error {
	s := t.User().scope
	s.Chips.Mod(t.Path(), map[string]interface{}{"en_route": true})
	return nil
}

// AttachRenderResults stores the renderer's output: image URLs, optional
// sounds, the classified flag, and extra metadata. The image-bearing MOD
// chip is future-dated to the arrival instant (minus leeway) so the photo
// only appears on the client when the rover arrives.
func (t *Target) AttachRenderResults(images map[string]string, sounds map[string]string, classified bool, metadata map[string]string) error {
	u := t.User()
	s := u.scope
	if t.Row.Processed {
		return invariantf("target %s already processed", t.Row.ID)
	}

	imgRows := make([]*types.TargetImage, 0, len(images))
	for kind, url := range images {
		img := &types.TargetImage{ID: uuid.New(), TargetID: t.Row.ID, Kind: kind, URL: url}
		imgRows = append(imgRows, img)
		t.Images = append(t.Images, img)
	}
	if err := s.Repos.Targets.CreateImages(s.Ctx, s.Tx, imgRows); err != nil {
		return fmt.Errorf("store target images: %w", err)
	}
	sndRows := make([]*types.TargetSound, 0, len(sounds))
	for key, url := range sounds {
		snd := &types.TargetSound{ID: uuid.New(), TargetID: t.Row.ID, SoundKey: key, URL: url}
		sndRows = append(sndRows, snd)
		t.Sounds = append(t.Sounds, snd)
	}
	if err := s.Repos.Targets.CreateSounds(s.Ctx, s.Tx, sndRows); err != nil {
		return fmt.Errorf("store target sounds: %w", err)
	}
	mdRows := make([]*types.TargetMetadata, 0, len(metadata))
	for k, v := range metadata {
		if _, exists := t.Metadata[k]; exists {
			continue
		}
		mdRows = append(mdRows, &types.TargetMetadata{ID: uuid.New(), TargetID: t.Row.ID, Key: k, Value: v})
		t.Metadata[k] = v
	}
	if err := s.Repos.Targets.CreateMetadata(s.Ctx, s.Tx, mdRows); err != nil {
		return fmt.Errorf("store render metadata: %w", err)
	}

	now := s.Clock.Now()
	t.Row.Processed = true
	t.Row.Classified = classified
	t.Row.LockToken = ""
	t.Row.LockExpires = nil
	err := s.Repos.Targets.UpdateFields(s.Ctx, s.Tx, t.Row.ID, map[string]interface{}{
		"processed":    true,
		"classified":   classified,
		"lock_token":   "",
		"lock_expires": nil,
		"updated_at":   now,
	})
	if err != nil {
		return fmt.Errorf("mark target processed: %w", err)
	}

	deliverAt := u.AbsTime(t.Row.ArrivalTime).Add(-ArrivalLeewaySeconds * time.Second)
	if deliverAt.Before(now) {
		deliverAt = now
	}
	s.Chips.ModAt(t.Path(), map[string]interface{}{
		"processed":  true,
		"classified": classified,
		"images":     t.imagesWire(),
	}, deliverAt)
	return nil
}

// AddMapTile inserts a tile row while preserving the expiry chain: rows for
// one (zoom,x,y) are ordered by arrival_time, each row expires exactly when
// its successor arrives, and the last row never expires.
func (u *User) AddMapTile(zoom, x, y int, arrivalTime int64, url string) error {
	s := u.scope
	chain, err := s.Repos.MapTiles.ListByTileKey(s.Ctx, s.Tx, u.Row.ID, zoom, x, y)
	if err != nil {
		return fmt.Errorf("load tile chain: %w", err)
	}

	row := &types.UserMapTile{
		ID:          uuid.New(),
		UserID:      u.Row.ID,
		Zoom:        zoom,
		X:           x,
		Y:           y,
		ArrivalTime: arrivalTime,
		URL:         url,
	}

	// Find the chain neighbors around the new arrival time.
	var prev, next *types.UserMapTile
	for _, existing := range chain {
		if existing.ArrivalTime <= arrivalTime {
			prev = existing
		} else {
			next = existing
			break
		}
	}
	if prev != nil && (prev.ExpiryTime == nil || *prev.ExpiryTime != arrivalTime) {
		prev.ExpiryTime = &arrivalTime
		if err := s.Repos.MapTiles.UpdateFields(s.Ctx, s.Tx, prev.ID,
			map[string]interface{}{"expiry_time": arrivalTime}); err != nil {
			return fmt.Errorf("relink tile chain: %w", err)
		}
		s.Chips.Mod(mapTilePath(prev), map[string]interface{}{"expiry_time": arrivalTime})
	}
	if next != nil {
		expiry := next.ArrivalTime
		row.ExpiryTime = &expiry
	}

	if _, err := s.Repos.MapTiles.Create(s.Ctx, s.Tx, row); err != nil {
		return fmt.Errorf("create map tile: %w", err)
	}
	u.MapTiles = append(u.MapTiles, row)
	s.Chips.Add(mapTilePath(row), mapTileWire(row))
	return nil
}
