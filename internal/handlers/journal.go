package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/services"
)

// JournalHandler covers the viewed flags on missions, achievements and
// species plus the client-namespace progress keys.
type JournalHandler struct {
	log            *logger.Logger
	messageService services.MessageService
	responder      *Responder
}

func NewJournalHandler(log *logger.Logger, messageService services.MessageService, responder *Responder) *JournalHandler {
	return &JournalHandler{
		log:            log.With("Handler", "JournalHandler"),
		messageService: messageService,
		responder:      responder,
	}
}

func (jh *JournalHandler) MarkMissionViewed(c *gin.Context) {
	userID, ok := jh.responder.User(c)
	if !ok {
		return
	}
	if err := jh.messageService.MarkMissionViewed(c.Request.Context(), userID, c.Param("mission_def")); err != nil {
		jh.responder.Error(c, err)
		return
	}
	jh.responder.OKWithChips(c, userID, nil)
}

func (jh *JournalHandler) MarkAchievementViewed(c *gin.Context) {
	userID, ok := jh.responder.User(c)
	if !ok {
		return
	}
	if err := jh.messageService.MarkAchievementViewed(c.Request.Context(), userID, c.Param("achievement_key")); err != nil {
		jh.responder.Error(c, err)
		return
	}
	jh.responder.OKWithChips(c, userID, nil)
}

func (jh *JournalHandler) MarkSpeciesViewed(c *gin.Context) {
	userID, ok := jh.responder.User(c)
	if !ok {
		return
	}
	if err := jh.messageService.MarkSpeciesViewed(c.Request.Context(), userID, c.Param("species_key")); err != nil {
		jh.responder.Error(c, err)
		return
	}
	jh.responder.OKWithChips(c, userID, nil)
}

type progressRequest struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

func (jh *JournalHandler) AddProgress(c *gin.Context) {
	userID, ok := jh.responder.User(c)
	if !ok {
		return
	}
	var req progressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		jh.responder.BadRequest(c, err)
		return
	}
	if err := jh.messageService.AddProgress(c.Request.Context(), userID, req.Key, req.Value); err != nil {
		jh.responder.Error(c, err)
		return
	}
	jh.responder.OKWithChips(c, userID, nil)
}

func (jh *JournalHandler) ResetProgress(c *gin.Context) {
	userID, ok := jh.responder.User(c)
	if !ok {
		return
	}
	if err := jh.messageService.ResetProgress(c.Request.Context(), userID, c.Param("progress_key")); err != nil {
		jh.responder.Error(c, err)
		return
	}
	jh.responder.OKWithChips(c, userID, nil)
}
