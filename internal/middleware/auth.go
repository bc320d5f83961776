package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/services"
	"github.com/okapigames/farpoint-backend/internal/utils"
)

// SessionCookieName carries the signed session token between requests.
const SessionCookieName = "farpoint_session"

const userIDKey = "userID"

type AuthMiddleware struct {
	log         *logger.Logger
	authService services.AuthService
}

func NewAuthMiddleware(log *logger.Logger, authService services.AuthService) *AuthMiddleware {
	return &AuthMiddleware{log: log.With("Middleware", "AuthMiddleware"), authService: authService}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractSessionToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}
		userID, err := am.authService.ParseSessionToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func extractSessionToken(c *gin.Context) string {
	if cookie, err := c.Cookie(SessionCookieName); err == nil && cookie != "" {
		return cookie
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}

// UserID returns the authenticated user set by RequireAuth.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// RendererMiddleware guards the render worker endpoints with a preshared
// token. Renderer workers are trusted infrastructure, not user sessions.
type RendererMiddleware struct {
	log   *logger.Logger
	token string
}

func NewRendererMiddleware(log *logger.Logger) *RendererMiddleware {
	middlewareLogger := log.With("Middleware", "RendererMiddleware")
	return &RendererMiddleware{
		log:   middlewareLogger,
		token: utils.GetEnv("RENDERER_TOKEN", "", middlewareLogger),
	}
}

func (rm *RendererMiddleware) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rm.token == "" {
			rm.log.Error("RENDERER_TOKEN not configured, rejecting renderer request")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "renderer access not configured"})
			return
		}
		presented := c.GetHeader("X-Renderer-Token")
		if presented == "" {
			authHeader := c.GetHeader("Authorization")
			if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
				presented = authHeader[7:]
			}
		}
		if presented != rm.token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid renderer token"})
			return
		}
		c.Next()
	}
}
