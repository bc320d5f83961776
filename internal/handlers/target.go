package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/services"
)

type TargetHandler struct {
	log           *logger.Logger
	targetService services.TargetService
	responder     *Responder
}

func NewTargetHandler(log *logger.Logger, targetService services.TargetService, responder *Responder) *TargetHandler {
	return &TargetHandler{
		log:           log.With("Handler", "TargetHandler"),
		targetService: targetService,
		responder:     responder,
	}
}

type createTargetRequest struct {
	Lat          float64           `json:"lat"`
	Lng          float64           `json:"lng"`
	ArrivalDelta int64             `json:"arrival_delta"`
	Yaw          float64           `json:"yaw"`
	Pitch        float64           `json:"pitch"`
	Picture      *bool             `json:"picture,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func (th *TargetHandler) Create(c *gin.Context) {
	userID, ok := th.responder.User(c)
	if !ok {
		return
	}
	roverID, err := pathUUID(c, "rover_id")
	if err != nil {
		th.responder.Error(c, err)
		return
	}
	var req createTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		th.responder.BadRequest(c, err)
		return
	}
	picture := true
	if req.Picture != nil {
		picture = *req.Picture
	}
	targetID, err := th.targetService.Create(c.Request.Context(), userID, services.CreateTargetInput{
		RoverID:      roverID,
		Lat:          req.Lat,
		Lng:          req.Lng,
		ArrivalDelta: req.ArrivalDelta,
		Yaw:          req.Yaw,
		Pitch:        req.Pitch,
		Picture:      picture,
		Metadata:     req.Metadata,
	})
	if err != nil {
		th.responder.Error(c, err)
		return
	}
	th.responder.OKWithChips(c, userID, gin.H{"target_id": targetID})
}

type checkSpeciesRequest struct {
	Rects []gamestate.RectInput `json:"rects"`
}

func (th *TargetHandler) CheckSpecies(c *gin.Context) {
	userID, ok := th.responder.User(c)
	if !ok {
		return
	}
	targetID, err := pathUUID(c, "target_id")
	if err != nil {
		th.responder.Error(c, err)
		return
	}
	var req checkSpeciesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		th.responder.BadRequest(c, err)
		return
	}
	if err := th.targetService.IdentifySpecies(c.Request.Context(), userID, targetID, req.Rects); err != nil {
		th.responder.Error(c, err)
		return
	}
	th.responder.OKWithChips(c, userID, nil)
}

func (th *TargetHandler) Abort(c *gin.Context) {
	userID, ok := th.responder.User(c)
	if !ok {
		return
	}
	targetID, err := pathUUID(c, "target_id")
	if err != nil {
		th.responder.Error(c, err)
		return
	}
	if err := th.targetService.Abort(c.Request.Context(), userID, targetID); err != nil {
		th.responder.Error(c, err)
		return
	}
	th.responder.OKWithChips(c, userID, nil)
}

func (th *TargetHandler) MarkViewed(c *gin.Context) {
	userID, ok := th.responder.User(c)
	if !ok {
		return
	}
	targetID, err := pathUUID(c, "target_id")
	if err != nil {
		th.responder.Error(c, err)
		return
	}
	if err := th.targetService.MarkViewed(c.Request.Context(), userID, targetID); err != nil {
		th.responder.Error(c, err)
		return
	}
	th.responder.OKWithChips(c, userID, nil)
}

// DownloadImage 303s to a presigned URL so image bytes never pass through
// the API server.
func (th *TargetHandler) DownloadImage(c *gin.Context) {
	userID, ok := th.responder.User(c)
	if !ok {
		return
	}
	targetID, err := pathUUID(c, "target_id")
	if err != nil {
		th.responder.Error(c, err)
		return
	}
	url, err := th.targetService.DownloadImageURL(c.Request.Context(), userID, targetID, c.Param("kind"))
	if err != nil {
		th.responder.Error(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, url)
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", gamestate.ErrValidation, name)
	}
	return id, nil
}

func parseUUIDField(raw, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", gamestate.ErrValidation, name)
	}
	return id, nil
}
