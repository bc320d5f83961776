// Package render is the server side of the render pipeline: handing out
// claimed targets to renderer workers and folding their results back into
// gamestate.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okapigames/farpoint-backend/internal/email"
	"github.com/okapigames/farpoint-backend/internal/events"
	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/locks"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/utils"
)

// LockDuration is how long a renderer owns a claimed target before the
// claim expires and another worker may take it.
const LockDuration = 5 * time.Minute

// ErrNothingToRender is returned when no target is due.
var ErrNothingToRender = errors.New("no renderable target")

// Job is everything a renderer worker needs for one target.
type Job struct {
	TargetID  uuid.UUID         `json:"target_id"`
	LockToken string            `json:"lock_token"`
	StartLat  float64           `json:"start_lat"`
	StartLng  float64           `json:"start_lng"`
	Lat       float64           `json:"lat"`
	Lng       float64           `json:"lng"`
	Yaw       float64           `json:"yaw"`
	Pitch     float64           `json:"pitch"`
	RenderAt  int64             `json:"render_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Assets    []JobAsset        `json:"assets,omitempty"`
	// Rovers is the user's full rover list with each rover's ordered
	// targets, the job's rover last and the job's target closing its list,
	// so the renderer can replay every drive leading up to this frame.
	Rovers []map[string]interface{} `json:"rovers"`
	Extra  map[string]interface{}   `json:"extra,omitempty"`
}

type JobAsset struct {
	Key string  `json:"key"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Result is the renderer's callback payload.
type Result struct {
	Images     map[string]string     `json:"images"`
	Sounds     map[string]string     `json:"sounds,omitempty"`
	Classified bool                  `json:"classified"`
	Metadata   map[string]string     `json:"metadata,omitempty"`
	Rects      []gamestate.RectInput `json:"rects,omitempty"`
	MapTiles   []ResultTile          `json:"map_tiles,omitempty"`
}

type ResultTile struct {
	Zoom int    `json:"zoom"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
	URL  string `json:"url"`
}

type Service struct {
	env      *gamestate.Env
	dispatch *events.Dispatcher
	email    *email.Dispatcher
	locks    locks.Manager
	log      *logger.Logger

	// Renderables older than this trigger the operator alarm.
	delayThreshold time.Duration
}

func New(env *gamestate.Env, dispatch *events.Dispatcher, emailDispatch *email.Dispatcher, lockMgr locks.Manager, log *logger.Logger) *Service {
	return &Service{
		env:            env,
		dispatch:       dispatch,
		email:          emailDispatch,
		locks:          lockMgr,
		log:            log.With("component", "render"),
		delayThreshold: time.Duration(utils.GetEnvAsInt("RENDER_DELAY_ALARM_MINUTES", 30, log)) * time.Minute,
	}
}

// NextTarget claims the oldest due target and returns its render job. The
// claim is a single conditional UPDATE on (lock_token, lock_expires); a
// lost race moves on to the next candidate.
func (r *Service) NextTarget(ctx context.Context) (*Job, error) {
	for attempt := 0; attempt < 5; attempt++ {
		now := r.env.Clock.Now()
		row, err := r.env.Repos.Targets.OldestRenderable(ctx, nil, now)
		if err != nil {
			return nil, fmt.Errorf("find renderable target: %w", err)
		}
		if row == nil {
			return nil, ErrNothingToRender
		}
		token := uuid.NewString()
		claimed, err := r.env.Repos.Targets.ClaimForRender(ctx, nil, row.ID, token, now.Add(LockDuration), now)
		if err != nil {
			return nil, fmt.Errorf("claim target %s: %w", row.ID, err)
		}
		if !claimed {
			// Another worker took it between SELECT and UPDATE.
			continue
		}
		return r.buildJob(ctx, row.ID, token)
	}
	return nil, ErrNothingToRender
}

func (r *Service) buildJob(ctx context.Context, targetID uuid.UUID, token string) (*Job, error) {
	var job *Job
	err := r.env.InScope(ctx, func(s *gamestate.Scope) error {
		row, err := s.Repos.Targets.GetByID(s.Ctx, s.Tx, targetID)
		if err != nil {
			return err
		}
		if row == nil {
			return fmt.Errorf("claimed target %s vanished", targetID)
		}
		roverRow, err := s.Repos.Rovers.GetByID(s.Ctx, s.Tx, row.RoverID)
		if err != nil {
			return err
		}
		if roverRow == nil {
			return fmt.Errorf("target %s references missing rover %s", targetID, row.RoverID)
		}
		u, err := gamestate.LoadUser(s, roverRow.UserID)
		if err != nil {
			return err
		}
		target := u.FindTarget(targetID)
		if target == nil {
			return fmt.Errorf("target %s missing from gamestate of %s", targetID, roverRow.UserID)
		}

		job = &Job{
			TargetID:  targetID,
			LockToken: token,
			StartLat:  target.Row.StartLat,
			StartLng:  target.Row.StartLng,
			Lat:       target.Row.Lat,
			Lng:       target.Row.Lng,
			Yaw:       target.Row.Yaw,
			Pitch:     target.Row.Pitch,
			RenderAt:  target.Row.RenderAt.Unix(),
			Metadata:  target.Metadata,
		}
		// The frame is shot at the destination, so asset visibility is
		// judged at the arrival instant, not the start of the drive.
		for _, asset := range s.Catalog.AssetsVisibleAt(target.Row.ArrivalTime) {
			job.Assets = append(job.Assets, JobAsset{Key: asset.Key, Lat: asset.Lat, Lng: asset.Lng})
		}
		rovers, err := u.RoverWiresEndingAt(targetID)
		if err != nil {
			return err
		}
		job.Rovers = rovers
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// TargetProcessed is the renderer callback: it verifies the lock token,
// stores images/sounds/rects, emits the future-dated chips, updates map
// tiles, and fires SPECIES_ID for newly detected species. The returned
// chips belong to the owning user, not the renderer, so the response is
// just an ack.
func (r *Service) TargetProcessed(ctx context.Context, targetID uuid.UUID, token string, result *Result) error {
	return r.env.InScope(ctx, func(s *gamestate.Scope) error {
		row, err := s.Repos.Targets.GetByID(s.Ctx, s.Tx, targetID)
		if err != nil {
			return err
		}
		if row == nil {
			return fmt.Errorf("%w: target %s", gamestate.ErrNotFound, targetID)
		}
		if row.LockToken != token {
			return fmt.Errorf("%w: stale render lock on %s", gamestate.ErrValidation, targetID)
		}
		roverRow, err := s.Repos.Rovers.GetByID(s.Ctx, s.Tx, row.RoverID)
		if err != nil {
			return err
		}
		if roverRow == nil {
			return fmt.Errorf("target %s references missing rover %s", targetID, row.RoverID)
		}
		u, err := gamestate.LoadUser(s, roverRow.UserID)
		if err != nil {
			return err
		}
		target := u.FindTarget(targetID)
		if target == nil {
			return fmt.Errorf("target %s missing from gamestate of %s", targetID, roverRow.UserID)
		}

		if err := target.AttachRenderResults(result.Images, result.Sounds, result.Classified, result.Metadata); err != nil {
			return err
		}
		newSpecies, err := target.RecordImageRects(result.Rects)
		if err != nil {
			return err
		}
		for _, tile := range result.MapTiles {
			if err := u.AddMapTile(tile.Zoom, tile.X, tile.Y, target.Row.ArrivalTime, tile.URL); err != nil {
				return err
			}
		}
		for _, key := range newSpecies {
			if err := r.dispatch.FireSpeciesID(u, key, target); err != nil {
				return err
			}
		}
		return nil
	})
}

// AlertIfDelayed emails the operator when the render backlog has a target
// past the delay threshold. Fail-fast lock so overlapping crons stay quiet.
func (r *Service) AlertIfDelayed(ctx context.Context) error {
	err := locks.WithLock(ctx, r.locks, locks.LockAlertDelayedRenderer, 0, func() error {
		now := r.env.Clock.Now()
		row, err := r.env.Repos.Targets.OldestRenderable(ctx, nil, now)
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
		delay := now.Sub(row.RenderAt)
		if delay < r.delayThreshold {
			return nil
		}
		r.log.Error("Render backlog is delayed", "target_id", row.ID, "delay", delay.String())
		return r.email.SendAlarm(ctx,
			"Renderer is falling behind",
			fmt.Sprintf("Oldest unrendered target %s has been due for %s.", row.ID, delay))
	})
	if errors.Is(err, locks.ErrAlreadyLocked) {
		return nil
	}
	return err
}
