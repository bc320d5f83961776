package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/services"
)

// jsonpCallback keeps the JSONP surface from echoing arbitrary script.
var jsonpCallback = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$.]*$`)

type HighlightsHandler struct {
	log        *logger.Logger
	highlights services.HighlightsService
	responder  *Responder
}

func NewHighlightsHandler(log *logger.Logger, highlights services.HighlightsService, responder *Responder) *HighlightsHandler {
	return &HighlightsHandler{
		log:        log.With("Handler", "HighlightsHandler"),
		highlights: highlights,
		responder:  responder,
	}
}

// List is the one public, unauthenticated game surface. A valid
// ?callback= switches the response to JSONP for embedding.
func (hh *HighlightsHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	items, err := hh.highlights.List(c.Request.Context(), limit)
	if err != nil {
		hh.responder.Error(c, err)
		return
	}
	payload := gin.H{"status": "ok", "highlights": items}

	callback := c.Query("callback")
	if callback == "" {
		c.JSON(http.StatusOK, payload)
		return
	}
	if !jsonpCallback.MatchString(callback) {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "errors": []string{"invalid callback"}})
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		hh.responder.Error(c, err)
		return
	}
	c.Data(http.StatusOK, "application/javascript", []byte(callback+"("+string(body)+");"))
}
