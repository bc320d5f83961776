package gamestate

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okapigames/farpoint-backend/internal/types"
)

// Every mutation below follows the same discipline: write the row inside the
// scope's transaction, update the in-memory tree, emit the chip. Direct
// field writes from outside this file are forbidden.

// AddMission starts a mission. No-op returning the existing mission if the
// def is already started.
func (u *User) AddMission(def string) (*Mission, error) {
	if existing, ok := u.Missions.Get(def); ok {
		return existing, nil
	}
	missionDef := u.scope.Catalog.Missions[def]
	if missionDef == nil {
		return nil, invariantf("unknown mission def %q", def)
	}
	row := &types.Mission{
		ID:         uuid.New(),
		UserID:     u.Row.ID,
		MissionDef: def,
		Sort:       missionDef.Sort,
		StartedAt:  u.scope.Clock.Now(),
	}
	if _, err := u.scope.Repos.Missions.Create(u.scope.Ctx, u.scope.Tx, row); err != nil {
		return nil, fmt.Errorf("add mission: %w", err)
	}
	mission := &Mission{Row: row, user: u}
	u.Missions.Add(mission)
	u.scope.Chips.Add(mission.Path(), mission.wire())
	return mission, nil
}

func (m *Mission) MarkDone() error {
	if m.Row.Done {
		return nil
	}
	now := m.user.scope.Clock.Now()
	m.Row.Done = true
	m.Row.DoneAt = &now
	err := m.user.scope.Repos.Missions.UpdateFields(m.user.scope.Ctx, m.user.scope.Tx, m.Row.ID,
		map[string]interface{}{"done": true, "done_at": now})
	if err != nil {
		return fmt.Errorf("mark mission done: %w", err)
	}
	m.user.scope.Chips.Mod(m.Path(), map[string]interface{}{"done": true, "done_at": now.Unix()})
	return nil
}

func (m *Mission) MarkViewed() error {
	if m.Row.ViewedAt != nil {
		return nil
	}
	now := m.user.scope.Clock.Now()
	m.Row.ViewedAt = &now
	err := m.user.scope.Repos.Missions.UpdateFields(m.user.scope.Ctx, m.user.scope.Tx, m.Row.ID,
		map[string]interface{}{"viewed_at": now})
	if err != nil {
		return fmt.Errorf("mark mission viewed: %w", err)
	}
	m.user.scope.Chips.Mod(m.Path(), map[string]interface{}{"viewed_at": now.Unix()})
	return nil
}

// AddMessage delivers a message of the given catalog type to the user.
func (u *User) AddMessage(msgType string) (*Message, error) {
	def := u.scope.Catalog.Messages[msgType]
	if def == nil {
		return nil, invariantf("unknown message type %q", msgType)
	}
	row := &types.Message{
		ID:      uuid.New(),
		UserID:  u.Row.ID,
		MsgType: msgType,
		SentAt:  u.scope.Clock.Now(),
		Locked:  def.Locked,
	}
	if _, err := u.scope.Repos.Messages.Create(u.scope.Ctx, u.scope.Tx, row); err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}
	message := &Message{Row: row, user: u}
	u.Messages.Add(message)
	u.scope.Chips.Add(message.Path(), message.wire())
	return message, nil
}

func (m *Message) MarkRead() error {
	if m.Row.ReadAt != nil {
		return nil
	}
	now := m.user.scope.Clock.Now()
	m.Row.ReadAt = &now
	err := m.user.scope.Repos.Messages.UpdateFields(m.user.scope.Ctx, m.user.scope.Tx, m.Row.ID,
		map[string]interface{}{"read_at": now})
	if err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	m.user.scope.Chips.Mod(m.Path(), map[string]interface{}{"read_at": now.Unix()})
	return nil
}

// Unlock accepts a passphrase attempt against a locked message.
func (m *Message) Unlock(passphrase string) error {
	def := m.Def()
	if def == nil || !m.Row.Locked {
		return validationf("message is not locked")
	}
	if m.Row.UnlockedAt != nil {
		return nil
	}
	if passphrase != def.Passphrase {
		return validationf("incorrect passphrase")
	}
	now := m.user.scope.Clock.Now()
	m.Row.UnlockedAt = &now
	err := m.user.scope.Repos.Messages.UpdateFields(m.user.scope.Ctx, m.user.scope.Tx, m.Row.ID,
		map[string]interface{}{"unlocked_at": now})
	if err != nil {
		return fmt.Errorf("unlock message: %w", err)
	}
	m.user.scope.Chips.Mod(m.Path(), map[string]interface{}{"locked": false})
	return nil
}

// AddAchievement registers a not-yet-achieved achievement slot.
func (u *User) AddAchievement(key string) (*Achievement, error) {
	if existing, ok := u.Achievements.Get(key); ok {
		return existing, nil
	}
	if u.scope.Catalog.Achievements[key] == nil {
		return nil, invariantf("unknown achievement key %q", key)
	}
	row := &types.Achievement{
		ID:             uuid.New(),
		UserID:         u.Row.ID,
		AchievementKey: key,
		CreatedAt:      u.scope.Clock.Now(),
	}
	if _, err := u.scope.Repos.Achievements.Create(u.scope.Ctx, u.scope.Tx, row); err != nil {
		return nil, fmt.Errorf("add achievement: %w", err)
	}
	achievement := &Achievement{Row: row, user: u}
	u.Achievements.Add(achievement)
	u.scope.Chips.Add(achievement.Path(), achievement.wire())
	return achievement, nil
}

func (a *Achievement) MarkAchieved() error {
	if a.Achieved() {
		return nil
	}
	now := a.user.scope.Clock.Now()
	a.Row.AchievedAt = &now
	err := a.user.scope.Repos.Achievements.UpdateFields(a.user.scope.Ctx, a.user.scope.Tx, a.Row.ID,
		map[string]interface{}{"achieved_at": now})
	if err != nil {
		return fmt.Errorf("mark achievement achieved: %w", err)
	}
	a.user.scope.Chips.Mod(a.Path(), map[string]interface{}{"achieved": true, "achieved_at": now.Unix()})
	return nil
}

func (a *Achievement) MarkViewed() error {
	if a.Row.ViewedAt != nil {
		return nil
	}
	now := a.user.scope.Clock.Now()
	a.Row.ViewedAt = &now
	err := a.user.scope.Repos.Achievements.UpdateFields(a.user.scope.Ctx, a.user.scope.Tx, a.Row.ID,
		map[string]interface{}{"viewed_at": now})
	if err != nil {
		return fmt.Errorf("mark achievement viewed: %w", err)
	}
	a.user.scope.Chips.Mod(a.Path(), map[string]interface{}{"viewed_at": now.Unix()})
	return nil
}

func (sp *Species) MarkViewed() error {
	if sp.Row.ViewedAt != nil {
		return nil
	}
	now := sp.user.scope.Clock.Now()
	sp.Row.ViewedAt = &now
	err := sp.user.scope.Repos.Species.UpdateFields(sp.user.scope.Ctx, sp.user.scope.Tx, sp.Row.ID,
		map[string]interface{}{"viewed_at": now})
	if err != nil {
		return fmt.Errorf("mark species viewed: %w", err)
	}
	sp.user.scope.Chips.Mod(sp.Path(), map[string]interface{}{"viewed_at": now.Unix()})
	return nil
}

// AddProgressKey records a progress marker. Progress keys are unique per
// user; re-adding is a no-op with a warning and no chip.
func (u *User) AddProgressKey(key, value string) (*Progress, error) {
	if existing, ok := u.Progress.Get(key); ok {
		u.scope.Log.Warn("Progress key already achieved, ignoring", "user_id", u.Row.ID, "key", key)
		return existing, nil
	}
	row := &types.ProgressKey{
		ID:         uuid.New(),
		UserID:     u.Row.ID,
		Key:        key,
		Value:      value,
		AchievedAt: u.scope.Clock.Now(),
	}
	if _, err := u.scope.Repos.Progress.Create(u.scope.Ctx, u.scope.Tx, row); err != nil {
		return nil, fmt.Errorf("add progress key: %w", err)
	}
	progress := &Progress{Row: row, user: u}
	u.Progress.Add(progress)
	u.scope.Chips.Add(progress.Path(), progress.wire())
	return progress, nil
}

// ResetProgressKey deletes a progress key, emitting a DELETE chip when a row
// actually existed.
func (u *User) ResetProgressKey(key string) error {
	progress, ok := u.Progress.Get(key)
	if !ok {
		return nil
	}
	count, err := u.scope.Repos.Progress.DeleteByKey(u.scope.Ctx, u.scope.Tx, u.Row.ID, key)
	if err != nil {
		return fmt.Errorf("reset progress key: %w", err)
	}
	if count > 0 {
		u.scope.Chips.Delete(progress.Path())
	}
	u.Progress.Remove(key)
	return nil
}

// AddRegion makes a catalog region visible to the user.
func (u *User) AddRegion(regionID string) (*Region, error) {
	if existing, ok := u.Regions.Get(regionID); ok {
		return existing, nil
	}
	if u.scope.Catalog.Regions[regionID] == nil {
		return nil, invariantf("unknown region %q", regionID)
	}
	row := &types.UserRegion{
		ID:        uuid.New(),
		UserID:    u.Row.ID,
		RegionID:  regionID,
		VisibleAt: u.scope.Clock.Now(),
	}
	if _, err := u.scope.Repos.Regions.Create(u.scope.Ctx, u.scope.Tx, row); err != nil {
		return nil, fmt.Errorf("add region: %w", err)
	}
	region := &Region{Row: row, user: u}
	u.Regions.Add(region)
	u.scope.Chips.Add(region.Path(), region.wire())
	return region, nil
}

// AddRover provisions a rover from a catalog profile.
func (u *User) AddRover(profileKey string, landerLat, landerLng float64) (*Rover, error) {
	profile := u.scope.Catalog.RoverProfiles[profileKey]
	if profile == nil {
		return nil, invariantf("unknown rover profile %q", profileKey)
	}
	row := &types.Rover{
		ID:        uuid.New(),
		UserID:    u.Row.ID,
		RoverKey:  profileKey,
		Chassis:   profile.Chassis,
		Active:    true,
		LanderLat: landerLat,
		LanderLng: landerLng,
		CreatedAt: u.scope.Clock.Now(),
	}
	if _, err := u.scope.Repos.Rovers.Create(u.scope.Ctx, u.scope.Tx, row); err != nil {
		return nil, fmt.Errorf("add rover: %w", err)
	}
	rover := &Rover{Row: row, user: u, Targets: NewCollection[*Target]()}
	u.Rovers.Add(rover)
	u.scope.Chips.Add(rover.Path(), rover.wire())
	return rover, nil
}

func (t *Target) MarkViewed() error {
	if t.Row.ViewedAt != nil {
		return nil
	}
	now := t.User().scope.Clock.Now()
	t.Row.ViewedAt = &now
	err := t.User().scope.Repos.Targets.UpdateFields(t.User().scope.Ctx, t.User().scope.Tx, t.Row.ID,
		map[string]interface{}{"viewed_at": now})
	if err != nil {
		return fmt.Errorf("mark target viewed: %w", err)
	}
	t.User().scope.Chips.Mod(t.Path(), map[string]interface{}{"viewed_at": now.Unix()})
	return nil
}

// SetLastLogin records a login without emitting chips (nothing on the
// client mirrors it).
func (u *User) SetLastLogin(at time.Time) error {
	u.Row.LastLoginAt = &at
	return u.scope.Repos.Users.UpdateFields(u.scope.Ctx, u.scope.Tx, u.Row.ID,
		map[string]interface{}{"last_login_at": at})
}

func (u *User) MarkValidated() error {
	if u.Row.Valid {
		return nil
	}
	u.Row.Valid = true
	if err := u.scope.Repos.Users.UpdateFields(u.scope.Ctx, u.scope.Tx, u.Row.ID,
		map[string]interface{}{"valid": true}); err != nil {
		return fmt.Errorf("mark user validated: %w", err)
	}
	u.scope.Chips.Mod(u.Path(), map[string]interface{}{"valid": true})
	return nil
}
