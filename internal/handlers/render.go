package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/render"
)

// RenderHandler serves the renderer workers, not players. Routes using it
// sit behind the preshared-token middleware.
type RenderHandler struct {
	log           *logger.Logger
	renderService *render.Service
	responder     *Responder
}

func NewRenderHandler(log *logger.Logger, renderService *render.Service, responder *Responder) *RenderHandler {
	return &RenderHandler{
		log:           log.With("Handler", "RenderHandler"),
		renderService: renderService,
		responder:     responder,
	}
}

func (rh *RenderHandler) NextTarget(c *gin.Context) {
	job, err := rh.renderService.NextTarget(c.Request.Context())
	if errors.Is(err, render.ErrNothingToRender) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "job": nil})
		return
	}
	if err != nil {
		rh.responder.Error(c, err)
		return
	}
	rh.responder.OK(c, gin.H{"job": job})
}

type targetProcessedRequest struct {
	TargetID  string        `json:"target_id"`
	LockToken string        `json:"lock_token"`
	Result    render.Result `json:"result"`
}

func (rh *RenderHandler) TargetProcessed(c *gin.Context) {
	var req targetProcessedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rh.responder.BadRequest(c, err)
		return
	}
	targetID, err := parseUUIDField(req.TargetID, "target_id")
	if err != nil {
		rh.responder.Error(c, err)
		return
	}
	if err := rh.renderService.TargetProcessed(c.Request.Context(), targetID, req.LockToken, &req.Result); err != nil {
		rh.responder.Error(c, err)
		return
	}
	rh.responder.OK(c, nil)
}
