package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okapigames/farpoint-backend/internal/events"
	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/scheduler"
	"github.com/okapigames/farpoint-backend/internal/storage"
)

type CreateTargetInput struct {
	RoverID      uuid.UUID
	Lat          float64
	Lng          float64
	ArrivalDelta int64
	Yaw          float64
	Pitch        float64
	Picture      bool
	Metadata     map[string]string
}

type TargetService interface {
	Create(ctx context.Context, userID uuid.UUID, in CreateTargetInput) (uuid.UUID, error)
	Abort(ctx context.Context, userID, targetID uuid.UUID) error
	MarkViewed(ctx context.Context, userID, targetID uuid.UUID) error
	// IdentifySpecies applies user-submitted detection rects to an
	// arrived photo and fires SPECIES_ID for anything new.
	IdentifySpecies(ctx context.Context, userID, targetID uuid.UUID, rects []gamestate.RectInput) error
	// DownloadImageURL signs a short-lived URL for one of the target's
	// rendered images.
	DownloadImageURL(ctx context.Context, userID, targetID uuid.UUID, kind string) (string, error)
}

type targetService struct {
	env      *gamestate.Env
	dispatch *events.Dispatcher
	signer   storage.Signer
	log      *logger.Logger
}

func NewTargetService(env *gamestate.Env, dispatch *events.Dispatcher, signer storage.Signer, log *logger.Logger) TargetService {
	return &targetService{env: env, dispatch: dispatch, signer: signer, log: log.With("service", "TargetService")}
}

// Create schedules the drive, enqueues the en-route and arrival rows, and
// fires TARGET_CREATED, all in one transaction with the emitted chips.
func (ts *targetService) Create(ctx context.Context, userID uuid.UUID, in CreateTargetInput) (uuid.UUID, error) {
	var targetID uuid.UUID
	err := ts.env.InScope(ctx, func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, userID)
		if err != nil {
			return err
		}
		rover := u.FindRover(in.RoverID)
		if rover == nil {
			return fmt.Errorf("%w: rover %s", gamestate.ErrNotFound, in.RoverID)
		}
		target, err := rover.CreateTarget(gamestate.CreateTargetParams{
			Lat:          in.Lat,
			Lng:          in.Lng,
			ArrivalDelta: in.ArrivalDelta,
			Yaw:          in.Yaw,
			Pitch:        in.Pitch,
			Picture:      in.Picture,
			Metadata:     in.Metadata,
		})
		if err != nil {
			return err
		}
		targetID = target.Row.ID
		if _, err := scheduler.ScheduleTargetEnRoute(s, target); err != nil {
			return err
		}
		if _, err := scheduler.ScheduleTargetArrival(s, target); err != nil {
			return err
		}
		return ts.dispatch.FireTarget(events.TargetCreated, u, target)
	})
	return targetID, err
}

// Abort cancels a pending target and everything scheduled after it,
// including the deferred en-route and arrival rows.
func (ts *targetService) Abort(ctx context.Context, userID, targetID uuid.UUID) error {
	return ts.env.InScope(ctx, func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, userID)
		if err != nil {
			return err
		}
		target := u.FindTarget(targetID)
		if target == nil {
			return fmt.Errorf("%w: target %s", gamestate.ErrNotFound, targetID)
		}
		doomed, err := target.Abort()
		if err != nil {
			return err
		}
		return scheduler.CancelTargetArrivals(s, userID, doomed)
	})
}

func (ts *targetService) MarkViewed(ctx context.Context, userID, targetID uuid.UUID) error {
	return ts.env.InScope(ctx, func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, userID)
		if err != nil {
			return err
		}
		target := u.FindTarget(targetID)
		if target == nil {
			return fmt.Errorf("%w: target %s", gamestate.ErrNotFound, targetID)
		}
		return target.MarkViewed()
	})
}

func (ts *targetService) DownloadImageURL(ctx context.Context, userID, targetID uuid.UUID, kind string) (string, error) {
	var raw string
	err := ts.env.InScope(ctx, func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, userID)
		if err != nil {
			return err
		}
		target := u.FindTarget(targetID)
		if target == nil {
			return fmt.Errorf("%w: target %s", gamestate.ErrNotFound, targetID)
		}
		if !target.Row.Processed || !target.Arrived() {
			return fmt.Errorf("%w: image is not available yet", gamestate.ErrValidation)
		}
		raw = target.ImageURL(kind)
		if raw == "" {
			return fmt.Errorf("%w: no %s image", gamestate.ErrNotFound, kind)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	signed, err := ts.signer.SignedURL(ctx, raw, 15*time.Minute)
	if err != nil {
		return "", fmt.Errorf("sign image url: %w", err)
	}
	return signed, nil
}

func (ts *targetService) IdentifySpecies(ctx context.Context, userID, targetID uuid.UUID, rects []gamestate.RectInput) error {
	return ts.env.InScope(ctx, func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, userID)
		if err != nil {
			return err
		}
		target := u.FindTarget(targetID)
		if target == nil {
			return fmt.Errorf("%w: target %s", gamestate.ErrNotFound, targetID)
		}
		if !target.Row.Processed || !target.Arrived() {
			return fmt.Errorf("%w: photo is not available yet", gamestate.ErrValidation)
		}
		newSpecies, err := target.RecordImageRects(rects)
		if err != nil {
			return err
		}
		for _, key := range newSpecies {
			if err := ts.dispatch.FireSpeciesID(u, key, target); err != nil {
				return err
			}
		}
		return nil
	})
}
