package handlers

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/services"
)

type GameHandler struct {
	log         *logger.Logger
	gameService services.GameService
	responder   *Responder
}

func NewGameHandler(log *logger.Logger, gameService services.GameService, responder *Responder) *GameHandler {
	return &GameHandler{
		log:         log.With("Handler", "GameHandler"),
		gameService: gameService,
		responder:   responder,
	}
}

func (gh *GameHandler) GetGamestate(c *gin.Context) {
	userID, ok := gh.responder.User(c)
	if !ok {
		return
	}
	tree, watermark, err := gh.gameService.FetchGamestate(c.Request.Context(), userID)
	if err != nil {
		gh.responder.Error(c, err)
		return
	}
	gh.responder.OK(c, gin.H{"gamestate": tree, "watermark": watermark})
}

func (gh *GameHandler) FetchChips(c *gin.Context) {
	userID, ok := gh.responder.User(c)
	if !ok {
		return
	}
	since, err := strconv.ParseInt(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil {
		gh.responder.Error(c, fmt.Errorf("%w: invalid since", gamestate.ErrValidation))
		return
	}
	chips, watermark, err := gh.gameService.ChipsSince(c.Request.Context(), userID, since)
	if err != nil {
		gh.responder.Error(c, err)
		return
	}
	gh.responder.OK(c, gin.H{"chips": chips, "watermark": watermark})
}
