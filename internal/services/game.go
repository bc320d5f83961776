package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/types"
)

// ChipWire is one journal entry as the client sees it.
type ChipWire struct {
	Seq    int64       `json:"seq"`
	Path   []string    `json:"path"`
	Action string      `json:"action"`
	Value  interface{} `json:"value,omitempty"`
	TimeUS int64       `json:"time"`
}

type GameService interface {
	// FetchGamestate returns the full serialized tree plus the chip
	// watermark the client should resume from.
	FetchGamestate(ctx context.Context, userID uuid.UUID) (map[string]interface{}, int64, error)
	// ChipsSince returns delivered chips after the watermark, in
	// (time_us, seq) order, plus the new watermark.
	ChipsSince(ctx context.Context, userID uuid.UUID, sinceUS int64) ([]ChipWire, int64, error)
}

type gameService struct {
	env *gamestate.Env
	log *logger.Logger
}

func NewGameService(env *gamestate.Env, log *logger.Logger) GameService {
	return &gameService{env: env, log: log.With("service", "GameService")}
}

func (gs *gameService) FetchGamestate(ctx context.Context, userID uuid.UUID) (map[string]interface{}, int64, error) {
	var tree map[string]interface{}
	var watermark int64
	err := gs.env.InScope(ctx, func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, userID)
		if err != nil {
			return err
		}
		tree = u.Serialize()
		watermark = s.Clock.NowMicros()
		return gs.touchWatermark(s, u, watermark)
	})
	if err != nil {
		return nil, 0, err
	}
	return tree, watermark, nil
}

func (gs *gameService) ChipsSince(ctx context.Context, userID uuid.UUID, sinceUS int64) ([]ChipWire, int64, error) {
	nowUS := gs.env.Clock.NowMicros()
	rows, err := gs.env.Repos.Chips.FetchSince(ctx, nil, userID, sinceUS, nowUS)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch chips: %w", err)
	}
	out := make([]ChipWire, 0, len(rows))
	for _, row := range rows {
		wire, err := chipToWire(row)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, wire)
	}

	err = gs.env.InScope(ctx, func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, userID)
		if err != nil {
			return err
		}
		return gs.touchWatermark(s, u, nowUS)
	})
	if err != nil {
		return nil, 0, err
	}
	return out, nowUS, nil
}

// touchWatermark records how far the client has seen, feeding the
// activity-alert scanner.
func (gs *gameService) touchWatermark(s *gamestate.Scope, u *gamestate.User, seenUS int64) error {
	settings := u.Notification
	if settings == nil {
		settings = &types.UserNotification{UserID: u.Row.ID, ActivityAlertFrequency: "MEDIUM"}
		u.Notification = settings
	}
	if seenUS <= settings.LastSeenChipUS {
		return nil
	}
	settings.LastSeenChipUS = seenUS
	settings.UpdatedAt = s.Clock.Now()
	return s.Repos.Notification.Upsert(s.Ctx, s.Tx, settings)
}

func chipToWire(row *types.Chip) (ChipWire, error) {
	wire := ChipWire{
		Seq:    row.Seq,
		Action: row.Action,
		TimeUS: row.TimeUS,
	}
	if err := json.Unmarshal(row.Path, &wire.Path); err != nil {
		return wire, fmt.Errorf("decode chip %d path: %w", row.Seq, err)
	}
	if len(row.Value) > 0 {
		if err := json.Unmarshal(row.Value, &wire.Value); err != nil {
			return wire, fmt.Errorf("decode chip %d value: %w", row.Seq, err)
		}
	}
	return wire, nil
}
