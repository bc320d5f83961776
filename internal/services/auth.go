package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/okapigames/farpoint-backend/internal/email"
	"github.com/okapigames/farpoint-backend/internal/events"
	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/scheduler"
	"github.com/okapigames/farpoint-backend/internal/types"
	"github.com/okapigames/farpoint-backend/internal/utils"
)

const (
	tokenPurposeSession  = "session"
	tokenPurposeValidate = "validate"
)

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	// InviteToken links the account to the inviting user.
	InviteToken string
	// GiftToken redeems a gift as part of signup.
	GiftToken string
}

type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*types.User, error)
	Login(ctx context.Context, emailAddr, password string) (*types.User, string, error)
	ValidateAccount(ctx context.Context, token string) error
	SessionToken(userID uuid.UUID) (string, error)
	ParseSessionToken(token string) (uuid.UUID, error)
	SessionTTL() time.Duration
}

type authService struct {
	env        *gamestate.Env
	dispatch   *events.Dispatcher
	email      *email.Dispatcher
	gifts      GiftRedeemer
	log        *logger.Logger
	jwtSecret  []byte
	sessionTTL time.Duration
	baseURL    string
}

// GiftRedeemer breaks the package cycle with the shop service.
type GiftRedeemer interface {
	RedeemGift(ctx context.Context, token string, redeemerID uuid.UUID) error
}

func NewAuthService(env *gamestate.Env, dispatch *events.Dispatcher, emailDispatch *email.Dispatcher, gifts GiftRedeemer, log *logger.Logger) AuthService {
	serviceLog := log.With("service", "AuthService")
	return &authService{
		env:        env,
		dispatch:   dispatch,
		email:      emailDispatch,
		gifts:      gifts,
		log:        serviceLog,
		jwtSecret:  []byte(utils.GetEnv("JWT_SECRET_KEY", "", serviceLog)),
		sessionTTL: time.Duration(utils.GetEnvAsInt("SESSION_COOKIE_EXPIRES_HOURS", 24*30, serviceLog)) * time.Hour,
		baseURL:    strings.TrimRight(utils.GetEnv("PUBLIC_BASE_URL", "http://localhost:8080", serviceLog), "/"),
	}
}

// Register creates the account, seeds its gamestate through the
// user_created lifecycle, and sends the validation email. The user's epoch
// is pinned at creation; every relative timestamp hangs off it.
func (as *authService) Register(ctx context.Context, in RegisterInput) (*types.User, error) {
	emailAddr := strings.ToLower(strings.TrimSpace(in.Email))
	if emailAddr == "" || !strings.Contains(emailAddr, "@") {
		return nil, fmt.Errorf("%w: invalid email", gamestate.ErrValidation)
	}
	if len(in.Password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", gamestate.ErrValidation)
	}
	exists, err := as.env.Repos.Users.EmailExists(ctx, nil, emailAddr)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: email already registered", gamestate.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := as.env.Clock.Now()
	row := &types.User{
		ID:        uuid.New(),
		Email:     emailAddr,
		Password:  string(hash),
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Epoch:     now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = as.env.InScope(ctx, func(s *gamestate.Scope) error {
		if in.InviteToken != "" {
			invite, err := s.Repos.Social.GetInvitationByToken(s.Ctx, s.Tx, in.InviteToken)
			if err != nil {
				return err
			}
			if invite != nil && invite.AcceptedAt == nil {
				row.InvitedBy = &invite.SenderID
				if err := s.Repos.Social.UpdateInvitationFields(s.Ctx, s.Tx, invite.ID, map[string]interface{}{
					"accepted_at":       now,
					"recipient_user_id": row.ID,
				}); err != nil {
					return err
				}
			}
		}
		if _, err := s.Repos.Users.Create(s.Ctx, s.Tx, row); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		if err := s.Repos.Notification.Upsert(s.Ctx, s.Tx, &types.UserNotification{
			UserID:                 row.ID,
			ActivityAlertFrequency: "MEDIUM",
			UpdatedAt:              now,
		}); err != nil {
			return fmt.Errorf("seed notification settings: %w", err)
		}
		u, err := gamestate.LoadUser(s, row.ID)
		if err != nil {
			return err
		}
		if err := as.dispatch.UserCreated(u); err != nil {
			return err
		}
		// The welcome email goes out a little later so validation lands first.
		if _, err := scheduler.RunLater(s, row.ID, types.DeferredEmail, email.TplWelcome, 10*time.Minute, nil); err != nil {
			return err
		}
		validateToken, err := as.purposeToken(row.ID, tokenPurposeValidate, 7*24*time.Hour)
		if err != nil {
			return err
		}
		return as.email.SendTemplate(s, u, email.TplValidateAccount, map[string]interface{}{
			"ValidateURL": fmt.Sprintf("%s/validate?token=%s", as.baseURL, validateToken),
		})
	})
	if err != nil {
		return nil, err
	}

	if in.GiftToken != "" {
		if err := as.gifts.RedeemGift(ctx, in.GiftToken, row.ID); err != nil {
			// The account exists; a bad gift token should not unwind it.
			as.log.Warn("Gift redemption at signup failed", "user_id", row.ID, "error", err)
		}
	}
	return row, nil
}

func (as *authService) Login(ctx context.Context, emailAddr, password string) (*types.User, string, error) {
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	row, err := as.env.Repos.Users.GetByEmail(ctx, nil, emailAddr)
	if err != nil {
		return nil, "", fmt.Errorf("lookup user: %w", err)
	}
	if row == nil {
		return nil, "", fmt.Errorf("%w: invalid email or password", gamestate.ErrValidation)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.Password), []byte(password)); err != nil {
		return nil, "", fmt.Errorf("%w: invalid email or password", gamestate.ErrValidation)
	}

	err = as.env.InScope(ctx, func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, row.ID)
		if err != nil {
			return err
		}
		return u.SetLastLogin(s.Clock.Now())
	})
	if err != nil {
		return nil, "", err
	}

	token, err := as.SessionToken(row.ID)
	if err != nil {
		return nil, "", err
	}
	return row, token, nil
}

// ValidateAccount flips the valid flag from the emailed token and fires
// the user_validated lifecycle.
func (as *authService) ValidateAccount(ctx context.Context, token string) error {
	userID, err := as.parsePurposeToken(token, tokenPurposeValidate)
	if err != nil {
		return fmt.Errorf("%w: invalid validation token", gamestate.ErrValidation)
	}
	return as.env.InScope(ctx, func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, userID)
		if err != nil {
			return err
		}
		if u.Row.Valid {
			return nil
		}
		if err := u.MarkValidated(); err != nil {
			return err
		}
		return as.dispatch.UserValidated(u)
	})
}

func (as *authService) SessionToken(userID uuid.UUID) (string, error) {
	return as.purposeToken(userID, tokenPurposeSession, as.sessionTTL)
}

func (as *authService) ParseSessionToken(token string) (uuid.UUID, error) {
	return as.parsePurposeToken(token, tokenPurposeSession)
}

func (as *authService) SessionTTL() time.Duration { return as.sessionTTL }

func (as *authService) purposeToken(userID uuid.UUID, purpose string, ttl time.Duration) (string, error) {
	if len(as.jwtSecret) == 0 {
		return "", errors.New("JWT_SECRET_KEY not configured")
	}
	now := as.env.Clock.Now()
	claims := jwt.MapClaims{
		"sub": userID.String(),
		"pur": purpose,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(as.jwtSecret)
}

func (as *authService) parsePurposeToken(token, purpose string) (uuid.UUID, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return as.jwtSecret, nil
	}, jwt.WithTimeFunc(func() time.Time { return as.env.Clock.Now() }))
	if err != nil || !parsed.Valid {
		return uuid.Nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, errors.New("invalid claims")
	}
	if claims["pur"] != purpose {
		return uuid.Nil, errors.New("token purpose mismatch")
	}
	sub, _ := claims["sub"].(string)
	return uuid.Parse(sub)
}
