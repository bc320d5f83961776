package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/repos"
	"github.com/okapigames/farpoint-backend/internal/storage"
	"github.com/okapigames/farpoint-backend/internal/types"
)

// Highlight is one public gallery entry. No owner identity leaks through
// this surface.
type Highlight struct {
	TargetID uuid.UUID `json:"target_id"`
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	Yaw      float64   `json:"yaw"`
	Pitch    float64   `json:"pitch"`
	PhotoURL string    `json:"photo_url"`
	ThumbURL string    `json:"thumb_url,omitempty"`
}

type HighlightsService interface {
	List(ctx context.Context, limit int) ([]Highlight, error)
	SetHighlight(ctx context.Context, targetID uuid.UUID, on bool) error
}

type highlightsService struct {
	repos  *repos.All
	signer storage.Signer
	log    *logger.Logger
	ttl    time.Duration
}

func NewHighlightsService(r *repos.All, signer storage.Signer, log *logger.Logger) HighlightsService {
	return &highlightsService{
		repos:  r,
		signer: signer,
		log:    log.With("service", "HighlightsService"),
		ttl:    time.Hour,
	}
}

func (hs *highlightsService) List(ctx context.Context, limit int) ([]Highlight, error) {
	targets, err := hs.repos.Targets.ListHighlights(ctx, nil, limit)
	if err != nil {
		return nil, fmt.Errorf("list highlights: %w", err)
	}
	if len(targets) == 0 {
		return []Highlight{}, nil
	}
	ids := make([]uuid.UUID, 0, len(targets))
	for _, t := range targets {
		ids = append(ids, t.ID)
	}
	images, err := hs.repos.Targets.ListImagesByTargets(ctx, nil, ids)
	if err != nil {
		return nil, fmt.Errorf("list highlight images: %w", err)
	}
	byTarget := make(map[uuid.UUID]map[string]string, len(targets))
	for _, img := range images {
		kinds := byTarget[img.TargetID]
		if kinds == nil {
			kinds = make(map[string]string)
			byTarget[img.TargetID] = kinds
		}
		kinds[img.Kind] = img.URL
	}

	out := make([]Highlight, 0, len(targets))
	for _, t := range targets {
		kinds := byTarget[t.ID]
		photo, err := hs.sign(ctx, kinds[types.ImageKindPhoto])
		if err != nil {
			return nil, err
		}
		if photo == "" {
			// Highlighted but not yet rendered into a photo; skip rather
			// than publish an empty entry.
			hs.log.Warn("Highlight target has no photo", "target_id", t.ID)
			continue
		}
		thumb, err := hs.sign(ctx, kinds[types.ImageKindThumb])
		if err != nil {
			return nil, err
		}
		out = append(out, Highlight{
			TargetID: t.ID,
			Lat:      t.Lat,
			Lng:      t.Lng,
			Yaw:      t.Yaw,
			Pitch:    t.Pitch,
			PhotoURL: photo,
			ThumbURL: thumb,
		})
	}
	return out, nil
}

func (hs *highlightsService) sign(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	url, err := hs.signer.SignedURL(ctx, key, hs.ttl)
	if err != nil {
		return "", fmt.Errorf("sign asset %s: %w", key, err)
	}
	return url, nil
}

func (hs *highlightsService) SetHighlight(ctx context.Context, targetID uuid.UUID, on bool) error {
	target, err := hs.repos.Targets.GetByID(ctx, nil, targetID)
	if err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("%w: target %s", gamestate.ErrNotFound, targetID)
	}
	if on && !target.Processed {
		return fmt.Errorf("%w: target is not processed yet", gamestate.ErrValidation)
	}
	return hs.repos.Targets.UpdateFields(ctx, nil, targetID, map[string]interface{}{"highlight": on})
}
