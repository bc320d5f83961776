package gamestate

import (
	"fmt"

	"github.com/google/uuid"
)

// LoadUser assembles the full gamestate tree in a bounded number of queries:
// one per child table, fetched up front, then stitched in memory. No lazy DB
// access happens after this returns.
func LoadUser(s *Scope, userID uuid.UUID) (*User, error) {
	row, err := s.Repos.Users.GetByID(s.Ctx, s.Tx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if row == nil {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}

	u := &User{
		Row:          row,
		scope:        s,
		Rovers:       NewCollection[*Rover](),
		Missions:     NewCollection[*Mission](),
		Messages:     NewCollection[*Message](),
		Species:      NewCollection[*Species](),
		Achievements: NewCollection[*Achievement](),
		Capabilities: NewCollection[*CapabilityState](),
		Vouchers:     NewCollection[*VoucherState](),
		Progress:     NewCollection[*Progress](),
		Regions:      NewCollection[*Region](),
	}
	s.Chips.bind(userID)

	rovers, err := s.Repos.Rovers.ListByUser(s.Ctx, s.Tx, userID)
	if err != nil {
		return nil, fmt.Errorf("load rovers: %w", err)
	}
	roverIDs := make([]uuid.UUID, 0, len(rovers))
	roverByID := make(map[uuid.UUID]*Rover, len(rovers))
	for _, rr := range rovers {
		rover := &Rover{Row: rr, user: u, Targets: NewCollection[*Target]()}
		u.Rovers.Add(rover)
		roverByID[rr.ID] = rover
		roverIDs = append(roverIDs, rr.ID)
	}

	targets, err := s.Repos.Targets.ListByRovers(s.Ctx, s.Tx, roverIDs)
	if err != nil {
		return nil, fmt.Errorf("load targets: %w", err)
	}
	targetIDs := make([]uuid.UUID, 0, len(targets))
	targetByID := make(map[uuid.UUID]*Target, len(targets))
	for _, tr := range targets {
		rover := roverByID[tr.RoverID]
		if rover == nil {
			return nil, invariantf("target %s references unknown rover %s", tr.ID, tr.RoverID)
		}
		target := &Target{Row: tr, rover: rover, Metadata: make(map[string]string)}
		rover.Targets.Add(target)
		targetByID[tr.ID] = target
		targetIDs = append(targetIDs, tr.ID)
	}

	images, err := s.Repos.Targets.ListImagesByTargets(s.Ctx, s.Tx, targetIDs)
	if err != nil {
		return nil, fmt.Errorf("load target images: %w", err)
	}
	for _, img := range images {
		if t := targetByID[img.TargetID]; t != nil {
			t.Images = append(t.Images, img)
		}
	}
	sounds, err := s.Repos.Targets.ListSoundsByTargets(s.Ctx, s.Tx, targetIDs)
	if err != nil {
		return nil, fmt.Errorf("load target sounds: %w", err)
	}
	for _, snd := range sounds {
		if t := targetByID[snd.TargetID]; t != nil {
			t.Sounds = append(t.Sounds, snd)
		}
	}
	rects, err := s.Repos.Targets.ListRectsByTargets(s.Ctx, s.Tx, targetIDs)
	if err != nil {
		return nil, fmt.Errorf("load target rects: %w", err)
	}
	for _, rect := range rects {
		if t := targetByID[rect.TargetID]; t != nil {
			t.Rects = append(t.Rects, rect)
		}
	}
	metadata, err := s.Repos.Targets.ListMetadataByTargets(s.Ctx, s.Tx, targetIDs)
	if err != nil {
		return nil, fmt.Errorf("load target metadata: %w", err)
	}
	for _, md := range metadata {
		if t := targetByID[md.TargetID]; t != nil {
			t.Metadata[md.Key] = md.Value
		}
	}

	missions, err := s.Repos.Missions.ListByUser(s.Ctx, s.Tx, userID)
	if err != nil {
		return nil, fmt.Errorf("load missions: %w", err)
	}
	for _, mr := range missions {
		u.Missions.Add(&Mission{Row: mr, user: u})
	}

	messages, err := s.Repos.Messages.ListByUser(s.Ctx, s.Tx, userID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	for _, mr := range messages {
		u.Messages.Add(&Message{Row: mr, user: u})
	}

	species, err := s.Repos.Species.ListByUser(s.Ctx, s.Tx, userID)
	if err != nil {
		return nil, fmt.Errorf("load species: %w", err)
	}
	for _, sr := range species {
		u.Species.Add(&Species{Row: sr, user: u})
	}

	achievements, err := s.Repos.Achievements.ListByUser(s.Ctx, s.Tx, userID)
	if err != nil {
		return nil, fmt.Errorf("load achievements: %w", err)
	}
	for _, ar := range achievements {
		u.Achievements.Add(&Achievement{Row: ar, user: u})
	}

	capabilities, err := s.Repos.Capabilities.ListByUser(s.Ctx, s.Tx, userID)
	if err != nil {
		return nil, fmt.Errorf("load capabilities: %w", err)
	}
	for _, cr := range capabilities {
		u.Capabilities.Add(&CapabilityState{Row: cr, user: u})
	}

	vouchers, err := s.Repos.Vouchers.ListByUser(s.Ctx, s.Tx, userID)
	if err != nil {
		return nil, fmt.Errorf("load vouchers: %w", err)
	}
	for _, vr := range vouchers {
		u.Vouchers.Add(&VoucherState{Row: vr, user: u})
	}

	progress, err := s.Repos.Progress.ListByUser(s.Ctx, s.Tx, userID)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	for _, pr := range progress {
		u.Progress.Add(&Progress{Row: pr, user: u})
	}

	regions, err := s.Repos.Regions.ListByUser(s.Ctx, s.Tx, userID)
	if err != nil {
		return nil, fmt.Errorf("load regions: %w", err)
	}
	for _, rr := range regions {
		u.Regions.Add(&Region{Row: rr, user: u})
	}

	u.Invites, err = s.Repos.Social.ListInvitationsBySender(s.Ctx, s.Tx, userID)
	if err != nil {
		return nil, fmt.Errorf("load invites: %w", err)
	}
	u.Gifts, err = s.Repos.Social.ListGiftsByCreator(s.Ctx, s.Tx, userID)
	if err != nil {
		return nil, fmt.Errorf("load gifts: %w", err)
	}
	u.MapTiles, err = s.Repos.MapTiles.ListByUser(s.Ctx, s.Tx, userID)
	if err != nil {
		return nil, fmt.Errorf("load map tiles: %w", err)
	}
	u.Shop, err = s.Repos.Shop.GetUserShop(s.Ctx, s.Tx, userID)
	if err != nil {
		return nil, fmt.Errorf("load shop: %w", err)
	}
	u.Notification, err = s.Repos.Notification.Get(s.Ctx, s.Tx, userID)
	if err != nil {
		return nil, fmt.Errorf("load notification: %w", err)
	}

	return u, nil
}

// FindTarget resolves a target by id across the user's rovers.
func (u *User) FindTarget(id uuid.UUID) *Target {
	for _, rover := range u.Rovers.All() {
		if t, ok := rover.Targets.Get(id.String()); ok {
			return t
		}
	}
	return nil
}

// FindRover resolves a rover by id.
func (u *User) FindRover(id uuid.UUID) *Rover {
	rover, _ := u.Rovers.Get(id.String())
	return rover
}
