package gamestate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/okapigames/farpoint-backend/internal/content"
	"github.com/okapigames/farpoint-backend/internal/types"
)

// The gamestate tree is strictly tree-shaped downward; children reach their
// owner through parent pointers set at construction, never owning cycles.

type User struct {
	Row   *types.User
	scope *Scope

	Rovers       *Collection[*Rover]
	Missions     *Collection[*Mission]
	Messages     *Collection[*Message]
	Species      *Collection[*Species]
	Achievements *Collection[*Achievement]
	Capabilities *Collection[*CapabilityState]
	Vouchers     *Collection[*VoucherState]
	Progress     *Collection[*Progress]
	Regions      *Collection[*Region]

	Invites      []*types.Invitation
	Gifts        []*types.Gift
	MapTiles     []*types.UserMapTile
	Shop         *types.UserShop
	Notification *types.UserNotification
}

func (u *User) Scope() *Scope   { return u.scope }
func (u *User) Path() []string  { return []string{"user"} }

// EpochSeconds converts an absolute instant to seconds since the user epoch.
func (u *User) EpochSeconds(t time.Time) int64 {
	return int64(t.Sub(u.Row.Epoch) / time.Second)
}

// AbsTime converts seconds-since-epoch back to an absolute instant.
func (u *User) AbsTime(secs int64) time.Time {
	return u.Row.Epoch.Add(time.Duration(secs) * time.Second)
}

func (u *User) NowSeconds() int64 {
	return u.EpochSeconds(u.scope.Clock.Now())
}

type Rover struct {
	Row     *types.Rover
	user    *User
	Targets *Collection[*Target]
}

func (r *Rover) Key() string  { return r.Row.ID.String() }
func (r *Rover) User() *User  { return r.user }
func (r *Rover) Path() []string {
	return []string{"user", "rovers", r.Row.ID.String()}
}

// Profile resolves the rover's behavioral profile from the catalog.
func (r *Rover) Profile() *content.RoverProfile {
	return r.user.scope.Catalog.RoverProfiles[r.Row.RoverKey]
}

// UnarrivedPictureTargets counts picture targets whose arrival lies in the
// future.
func (r *Rover) UnarrivedPictureTargets() int {
	now := r.user.NowSeconds()
	count := 0
	for _, t := range r.Targets.All() {
		if t.Row.Picture && t.Row.ArrivalTime > now {
			count++
		}
	}
	return count
}

// LastTarget returns the target with the greatest start_time, or nil.
func (r *Rover) LastTarget() *Target {
	all := r.Targets.All()
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

func (r *Rover) wire() map[string]interface{} {
	return map[string]interface{}{
		"id":         r.Row.ID.String(),
		"rover_key":  r.Row.RoverKey,
		"chassis":    r.Row.Chassis,
		"active":     r.Row.Active,
		"lander_lat": r.Row.LanderLat,
		"lander_lng": r.Row.LanderLng,
	}
}

type Target struct {
	Row      *types.Target
	rover    *Rover
	Images   []*types.TargetImage
	Sounds   []*types.TargetSound
	Rects    []*types.TargetImageRect
	Metadata map[string]string
}

func (t *Target) Key() string   { return t.Row.ID.String() }
func (t *Target) Rover() *Rover { return t.rover }
func (t *Target) User() *User   { return t.rover.user }
func (t *Target) Path() []string {
	return []string{"user", "rovers", t.rover.Row.ID.String(), "targets", t.Row.ID.String()}
}

// Arrived reports whether the rover has reached this target.
func (t *Target) Arrived() bool {
	return t.Row.ArrivalTime <= t.User().NowSeconds()
}

// Locked reports whether a renderer currently holds a live render lock.
func (t *Target) Locked() bool {
	if t.Row.LockToken == "" || t.Row.LockExpires == nil {
		return false
	}
	return t.Row.LockExpires.After(t.User().scope.Clock.Now())
}

// CanAbort: not yet arrived and not mid-render.
func (t *Target) CanAbort() bool {
	return !t.Arrived() && !t.Locked()
}

func (t *Target) ImageURL(kind string) string {
	for _, img := range t.Images {
		if img.Kind == kind {
			return img.URL
		}
	}
	return ""
}

func (t *Target) wire() map[string]interface{} {
	out := map[string]interface{}{
		"id":           t.Row.ID.String(),
		"rover_id":     t.Row.RoverID.String(),
		"start_lat":    t.Row.StartLat,
		"start_lng":    t.Row.StartLng,
		"lat":          t.Row.Lat,
		"lng":          t.Row.Lng,
		"yaw":          t.Row.Yaw,
		"pitch":        t.Row.Pitch,
		"start_time":   t.Row.StartTime,
		"arrival_time": t.Row.ArrivalTime,
		"picture":      t.Row.Picture,
		"processed":    t.Row.Processed,
		"classified":   t.Row.Classified,
		"user_created": t.Row.UserCreated,
		// Computed, not persisted: the absolute arrival instant.
		"arrival_at": t.User().AbsTime(t.Row.ArrivalTime).Unix(),
	}
	if t.Row.ViewedAt != nil {
		out["viewed_at"] = t.Row.ViewedAt.Unix()
	}
	if len(t.Metadata) > 0 {
		md := make(map[string]interface{}, len(t.Metadata))
		for k, v := range t.Metadata {
			md[k] = v
		}
		out["metadata"] = md
	}
	if t.Row.Processed {
		out["images"] = t.imagesWire()
	}
	return out
}

func (t *Target) imagesWire() map[string]interface{} {
	images := make(map[string]interface{}, len(t.Images))
	for _, img := range t.Images {
		images[img.Kind] = img.URL
	}
	return images
}

type Mission struct {
	Row  *types.Mission
	user *User
}

func (m *Mission) Key() string { return m.Row.MissionDef }
func (m *Mission) User() *User { return m.user }
func (m *Mission) Path() []string {
	return []string{"user", "missions", m.Row.MissionDef}
}

func (m *Mission) Def() *content.MissionDef {
	return m.user.scope.Catalog.Missions[m.Row.MissionDef]
}

func (m *Mission) wire() map[string]interface{} {
	out := map[string]interface{}{
		"id":          m.Row.ID.String(),
		"mission_def": m.Row.MissionDef,
		"done":        m.Row.Done,
		"sort":        m.Row.Sort,
		"started_at":  m.Row.StartedAt.Unix(),
	}
	if def := m.Def(); def != nil {
		out["title"] = def.Title
		out["summary"] = def.Summary
	}
	if m.Row.DoneAt != nil {
		out["done_at"] = m.Row.DoneAt.Unix()
	}
	if m.Row.ViewedAt != nil {
		out["viewed_at"] = m.Row.ViewedAt.Unix()
	}
	return out
}

type Message struct {
	Row  *types.Message
	user *User
}

func (m *Message) Key() string { return m.Row.ID.String() }
func (m *Message) User() *User { return m.user }
func (m *Message) Path() []string {
	return []string{"user", "messages", m.Row.ID.String()}
}

func (m *Message) Def() *content.MessageDef {
	return m.user.scope.Catalog.Messages[m.Row.MsgType]
}

// Unlocked: never locked, or the passphrase was accepted.
func (m *Message) Unlocked() bool {
	return !m.Row.Locked || m.Row.UnlockedAt != nil
}

func (m *Message) wire() map[string]interface{} {
	out := map[string]interface{}{
		"id":       m.Row.ID.String(),
		"msg_type": m.Row.MsgType,
		"sent_at":  m.Row.SentAt.Unix(),
		"locked":   m.Row.Locked && m.Row.UnlockedAt == nil,
	}
	if def := m.Def(); def != nil {
		out["sender"] = def.Sender
		out["subject"] = def.Subject
	}
	if m.Row.ReadAt != nil {
		out["read_at"] = m.Row.ReadAt.Unix()
	}
	return out
}

// Wire is the message as the client sees it. The body is withheld until
// the message is unlocked.
func (m *Message) Wire() map[string]interface{} {
	out := m.wire()
	if def := m.Def(); def != nil && m.Unlocked() {
		out["body"] = def.Body
	}
	return out
}

type Species struct {
	Row  *types.SpeciesRecord
	user *User
}

func (s *Species) Key() string { return s.Row.SpeciesKey }
func (s *Species) User() *User { return s.user }
func (s *Species) Path() []string {
	return []string{"user", "species", s.Row.SpeciesKey}
}

func (s *Species) SubspeciesIDs() []int {
	if len(s.Row.Subspecies) == 0 {
		return nil
	}
	var ids []int
	if err := json.Unmarshal(s.Row.Subspecies, &ids); err != nil {
		return nil
	}
	return ids
}

func (s *Species) wire() map[string]interface{} {
	out := map[string]interface{}{
		"id":          s.Row.ID.String(),
		"species_id":  s.Row.SpeciesNum,
		"species_key": s.Row.SpeciesKey,
		"detected_at": s.Row.DetectedAt.Unix(),
		"rect_count":  s.Row.RectCount,
	}
	if def := s.user.scope.Catalog.Species[s.Row.SpeciesKey]; def != nil {
		out["name"] = def.Name
		out["kind"] = def.Kind
	}
	if ids := s.SubspeciesIDs(); len(ids) > 0 {
		out["subspecies"] = ids
	}
	if s.Row.ViewedAt != nil {
		out["viewed_at"] = s.Row.ViewedAt.Unix()
	}
	return out
}

type Achievement struct {
	Row  *types.Achievement
	user *User
}

func (a *Achievement) Key() string { return a.Row.AchievementKey }
func (a *Achievement) User() *User { return a.user }
func (a *Achievement) Path() []string {
	return []string{"user", "achievements", a.Row.AchievementKey}
}

func (a *Achievement) Achieved() bool { return a.Row.AchievedAt != nil }

func (a *Achievement) wire() map[string]interface{} {
	out := map[string]interface{}{
		"id":              a.Row.ID.String(),
		"achievement_key": a.Row.AchievementKey,
		"achieved":        a.Achieved(),
	}
	if def := a.user.scope.Catalog.Achievements[a.Row.AchievementKey]; def != nil {
		out["title"] = def.Title
		out["secret"] = def.Secret
	}
	if a.Row.AchievedAt != nil {
		out["achieved_at"] = a.Row.AchievedAt.Unix()
	}
	if a.Row.ViewedAt != nil {
		out["viewed_at"] = a.Row.ViewedAt.Unix()
	}
	return out
}

type CapabilityState struct {
	Row  *types.Capability
	user *User
}

func (c *CapabilityState) Key() string { return c.Row.CapabilityKey }
func (c *CapabilityState) User() *User { return c.user }
func (c *CapabilityState) Path() []string {
	return []string{"user", "capabilities", c.Row.CapabilityKey}
}

func (c *CapabilityState) Def() *content.CapabilityDef {
	return c.user.scope.Catalog.Capabilities[c.Row.CapabilityKey]
}

// HasFreeUse: unlimited, or metered uses remain.
func (c *CapabilityState) HasFreeUse() bool {
	if !c.Row.Available {
		return false
	}
	return c.Row.Unlimited || c.Row.Uses < c.Row.FreeUses
}

func (c *CapabilityState) wire() map[string]interface{} {
	return map[string]interface{}{
		"id":             c.Row.ID.String(),
		"capability_key": c.Row.CapabilityKey,
		"available":      c.Row.Available,
		"unlimited":      c.Row.Unlimited,
		"uses":           c.Row.Uses,
		"free_uses":      c.Row.FreeUses,
	}
}

type VoucherState struct {
	Row  *types.Voucher
	user *User
}

func (v *VoucherState) Key() string { return v.Row.VoucherKey }
func (v *VoucherState) User() *User { return v.user }
func (v *VoucherState) Path() []string {
	return []string{"user", "vouchers", v.Row.VoucherKey}
}

func (v *VoucherState) wire() map[string]interface{} {
	return map[string]interface{}{
		"id":           v.Row.ID.String(),
		"voucher_key":  v.Row.VoucherKey,
		"delivered_at": v.Row.DeliveredAt.Unix(),
	}
}

type Progress struct {
	Row  *types.ProgressKey
	user *User
}

func (p *Progress) Key() string { return p.Row.Key }
func (p *Progress) User() *User { return p.user }
func (p *Progress) Path() []string {
	return []string{"user", "progress", p.Row.Key}
}

func (p *Progress) wire() map[string]interface{} {
	return map[string]interface{}{
		"key":         p.Row.Key,
		"value":       p.Row.Value,
		"achieved_at": p.Row.AchievedAt.Unix(),
	}
}

type Region struct {
	Row  *types.UserRegion
	user *User
}

func (r *Region) Key() string { return r.Row.RegionID }
func (r *Region) User() *User { return r.user }
func (r *Region) Path() []string {
	return []string{"user", "regions", r.Row.RegionID}
}

func (r *Region) Def() *content.RegionDef {
	return r.user.scope.Catalog.Regions[r.Row.RegionID]
}

func (r *Region) wire() map[string]interface{} {
	out := map[string]interface{}{
		"region_id":  r.Row.RegionID,
		"visible_at": r.Row.VisibleAt.Unix(),
	}
	if def := r.Def(); def != nil {
		out["shape"] = def.Shape
		if len(def.Center) == 2 {
			out["center"] = def.Center
		}
		if def.Radius > 0 {
			out["radius"] = def.Radius
		}
		if len(def.Verts) > 0 {
			out["verts"] = def.Verts
		}
	}
	return out
}

func mapTilePath(tile *types.UserMapTile) []string {
	return []string{"user", "map_tiles", fmt.Sprintf("%d,%d,%d", tile.Zoom, tile.X, tile.Y), fmt.Sprintf("%d", tile.ArrivalTime)}
}

func mapTileWire(tile *types.UserMapTile) map[string]interface{} {
	out := map[string]interface{}{
		"zoom":         tile.Zoom,
		"x":            tile.X,
		"y":            tile.Y,
		"arrival_time": tile.ArrivalTime,
		"url":          tile.URL,
	}
	if tile.ExpiryTime != nil {
		out["expiry_time"] = *tile.ExpiryTime
	}
	return out
}
