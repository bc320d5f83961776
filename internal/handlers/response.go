package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/okapigames/farpoint-backend/internal/email"
	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/middleware"
	"github.com/okapigames/farpoint-backend/internal/services"
)

// Responder builds the wire envelope shared by every endpoint: successes
// are {status:"ok", ...} and may carry the chips emitted since the
// client's watermark; failures are {status:"error", errors:[...]}.
type Responder struct {
	game  services.GameService
	email *email.Dispatcher
	log   *logger.Logger
}

func NewResponder(game services.GameService, emailDispatch *email.Dispatcher, log *logger.Logger) *Responder {
	return &Responder{game: game, email: emailDispatch, log: log.With("component", "handlers")}
}

func (r *Responder) OK(c *gin.Context, payload gin.H) {
	body := gin.H{"status": "ok"}
	for k, v := range payload {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// OKWithChips attaches the chips emitted since the client's `since`
// watermark (microseconds, query param) to a success response, so a
// mutation's caller sees its own effects without a second round trip.
func (r *Responder) OKWithChips(c *gin.Context, userID uuid.UUID, payload gin.H) {
	body := gin.H{"status": "ok"}
	for k, v := range payload {
		body[k] = v
	}
	if raw := c.Query("since"); raw != "" {
		since, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			r.Error(c, fmt.Errorf("%w: invalid since %q", gamestate.ErrValidation, raw))
			return
		}
		chips, watermark, err := r.game.ChipsSince(c.Request.Context(), userID, since)
		if err != nil {
			r.Error(c, err)
			return
		}
		body["chips"] = chips
		body["watermark"] = watermark
	}
	c.JSON(http.StatusOK, body)
}

// Error maps domain errors onto the envelope. Unknown ids inside an
// authenticated request are a client mistake like any other bad input, so
// ErrNotFound shares the 400 branch with ErrValidation. Anything else is
// treated as an invariant breach: logged, reported to the operator
// address, and hidden from the client.
func (r *Responder) Error(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gamestate.ErrValidation), errors.Is(err, gamestate.ErrNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "errors": []string{err.Error()}})
	default:
		r.log.Error("Request failed", "path", c.FullPath(), "error", err)
		r.alarm(c.Request.Context(), c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "errors": []string{"internal error"}})
	}
}

func (r *Responder) alarm(ctx context.Context, path string, err error) {
	if alarmErr := r.email.SendAlarm(ctx,
		fmt.Sprintf("Unhandled error on %s", path),
		err.Error()); alarmErr != nil {
		r.log.Error("Failed to send exception alarm", "error", alarmErr)
	}
}

// BadRequest is the envelope for malformed JSON bodies.
func (r *Responder) BadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"status": "error", "errors": []string{"malformed request: " + err.Error()}})
}

// User returns the authenticated user id, writing the 401 envelope when
// the auth middleware did not run.
func (r *Responder) User(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "errors": []string{"unauthenticated"}})
	}
	return id, ok
}
