package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/services"
)

type SocialHandler struct {
	log           *logger.Logger
	socialService services.SocialService
	responder     *Responder
}

func NewSocialHandler(log *logger.Logger, socialService services.SocialService, responder *Responder) *SocialHandler {
	return &SocialHandler{
		log:           log.With("Handler", "SocialHandler"),
		socialService: socialService,
		responder:     responder,
	}
}

type inviteRequest struct {
	RecipientEmail string `json:"recipient_email"`
	FirstName      string `json:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty"`
	Message        string `json:"message,omitempty"`
}

func (sh *SocialHandler) Invite(c *gin.Context) {
	userID, ok := sh.responder.User(c)
	if !ok {
		return
	}
	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sh.responder.BadRequest(c, err)
		return
	}
	invite, err := sh.socialService.Invite(c.Request.Context(), userID, services.InviteInput{
		RecipientEmail: req.RecipientEmail,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Message:        req.Message,
	})
	if err != nil {
		sh.responder.Error(c, err)
		return
	}
	sh.responder.OK(c, gin.H{"invite_id": invite.ID})
}

type notificationSettingsRequest struct {
	ActivityAlertFrequency string `json:"activity_alert_frequency"`
}

func (sh *SocialHandler) UpdateNotificationSettings(c *gin.Context) {
	userID, ok := sh.responder.User(c)
	if !ok {
		return
	}
	var req notificationSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sh.responder.BadRequest(c, err)
		return
	}
	if err := sh.socialService.UpdateNotificationFrequency(c.Request.Context(), userID, req.ActivityAlertFrequency); err != nil {
		sh.responder.Error(c, err)
		return
	}
	sh.responder.OK(c, nil)
}
