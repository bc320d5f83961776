package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/middleware"
	"github.com/okapigames/farpoint-backend/internal/services"
)

type AuthHandler struct {
	log         *logger.Logger
	authService services.AuthService
	responder   *Responder
}

func NewAuthHandler(log *logger.Logger, authService services.AuthService, responder *Responder) *AuthHandler {
	return &AuthHandler{
		log:         log.With("Handler", "AuthHandler"),
		authService: authService,
		responder:   responder,
	}
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	InviteToken string `json:"invite_token,omitempty"`
	GiftToken   string `json:"gift_token,omitempty"`
}

func (ah *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ah.responder.BadRequest(c, err)
		return
	}
	row, err := ah.authService.Register(c.Request.Context(), services.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		InviteToken: req.InviteToken,
		GiftToken:   req.GiftToken,
	})
	if err != nil {
		ah.responder.Error(c, err)
		return
	}
	token, err := ah.authService.SessionToken(row.ID)
	if err != nil {
		ah.responder.Error(c, err)
		return
	}
	ah.setSessionCookie(c, token)
	ah.responder.OK(c, gin.H{"user_id": row.ID, "token": token})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (ah *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ah.responder.BadRequest(c, err)
		return
	}
	row, token, err := ah.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		ah.responder.Error(c, err)
		return
	}
	ah.setSessionCookie(c, token)
	ah.responder.OK(c, gin.H{"user_id": row.ID, "token": token})
}

func (ah *AuthHandler) Logout(c *gin.Context) {
	c.SetCookie(middleware.SessionCookieName, "", -1, "/", "", false, true)
	ah.responder.OK(c, nil)
}

// Validate handles the link from the account-confirmation email. Browsers
// get a 303 back to the app root; API callers get the envelope.
func (ah *AuthHandler) Validate(c *gin.Context) {
	token := c.Query("token")
	if err := ah.authService.ValidateAccount(c.Request.Context(), token); err != nil {
		ah.responder.Error(c, err)
		return
	}
	if redirect := c.Query("redirect"); redirect != "" {
		c.Redirect(http.StatusSeeOther, redirect)
		return
	}
	ah.responder.OK(c, nil)
}

func (ah *AuthHandler) setSessionCookie(c *gin.Context, token string) {
	maxAge := int(ah.authService.SessionTTL().Seconds())
	c.SetCookie(middleware.SessionCookieName, token, maxAge, "/", "", false, true)
}
