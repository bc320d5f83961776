package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/services"
)

type MessageHandler struct {
	log            *logger.Logger
	messageService services.MessageService
	responder      *Responder
}

func NewMessageHandler(log *logger.Logger, messageService services.MessageService, responder *Responder) *MessageHandler {
	return &MessageHandler{
		log:            log.With("Handler", "MessageHandler"),
		messageService: messageService,
		responder:      responder,
	}
}

func (mh *MessageHandler) Get(c *gin.Context) {
	userID, ok := mh.responder.User(c)
	if !ok {
		return
	}
	messageID, err := pathUUID(c, "message_id")
	if err != nil {
		mh.responder.Error(c, err)
		return
	}
	wire, err := mh.messageService.Get(c.Request.Context(), userID, messageID)
	if err != nil {
		mh.responder.Error(c, err)
		return
	}
	mh.responder.OK(c, gin.H{"message": wire})
}

func (mh *MessageHandler) MarkRead(c *gin.Context) {
	userID, ok := mh.responder.User(c)
	if !ok {
		return
	}
	messageID, err := pathUUID(c, "message_id")
	if err != nil {
		mh.responder.Error(c, err)
		return
	}
	if err := mh.messageService.MarkRead(c.Request.Context(), userID, messageID); err != nil {
		mh.responder.Error(c, err)
		return
	}
	mh.responder.OKWithChips(c, userID, nil)
}

type unlockRequest struct {
	Passphrase string `json:"passphrase"`
}

func (mh *MessageHandler) Unlock(c *gin.Context) {
	userID, ok := mh.responder.User(c)
	if !ok {
		return
	}
	messageID, err := pathUUID(c, "message_id")
	if err != nil {
		mh.responder.Error(c, err)
		return
	}
	var req unlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mh.responder.BadRequest(c, err)
		return
	}
	if err := mh.messageService.Unlock(c.Request.Context(), userID, messageID, req.Passphrase); err != nil {
		mh.responder.Error(c, err)
		return
	}
	mh.responder.OKWithChips(c, userID, nil)
}

type forwardRequest struct {
	RecipientEmail string `json:"recipient_email"`
}

func (mh *MessageHandler) Forward(c *gin.Context) {
	userID, ok := mh.responder.User(c)
	if !ok {
		return
	}
	messageID, err := pathUUID(c, "message_id")
	if err != nil {
		mh.responder.Error(c, err)
		return
	}
	var req forwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mh.responder.BadRequest(c, err)
		return
	}
	if err := mh.messageService.Forward(c.Request.Context(), userID, messageID, req.RecipientEmail); err != nil {
		mh.responder.Error(c, err)
		return
	}
	mh.responder.OK(c, nil)
}
