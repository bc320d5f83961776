package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/okapigames/farpoint-backend/internal/email"
	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/types"
	"github.com/okapigames/farpoint-backend/internal/utils"
)

type InviteInput struct {
	RecipientEmail string
	FirstName      string
	LastName       string
	Message        string
}

type SocialService interface {
	Invite(ctx context.Context, senderID uuid.UUID, in InviteInput) (*types.Invitation, error)
	UpdateNotificationFrequency(ctx context.Context, userID uuid.UUID, frequency string) error
}

type socialService struct {
	env     *gamestate.Env
	email   *email.Dispatcher
	log     *logger.Logger
	baseURL string
}

func NewSocialService(env *gamestate.Env, emailDispatch *email.Dispatcher, log *logger.Logger) SocialService {
	serviceLog := log.With("service", "SocialService")
	return &socialService{
		env:     env,
		email:   emailDispatch,
		log:     serviceLog,
		baseURL: strings.TrimRight(utils.GetEnv("PUBLIC_BASE_URL", "http://localhost:8080", serviceLog), "/"),
	}
}

// Invite records the invitation and emails the recipient a signup link
// carrying the invite token.
func (ss *socialService) Invite(ctx context.Context, senderID uuid.UUID, in InviteInput) (*types.Invitation, error) {
	recipient := strings.ToLower(strings.TrimSpace(in.RecipientEmail))
	if recipient == "" || !strings.Contains(recipient, "@") {
		return nil, fmt.Errorf("%w: invalid recipient email", gamestate.ErrValidation)
	}

	var invite *types.Invitation
	err := ss.env.InScope(ctx, func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, senderID)
		if err != nil {
			return err
		}
		invite = &types.Invitation{
			ID:             uuid.New(),
			SenderID:       senderID,
			RecipientEmail: recipient,
			RecipientFirst: strings.TrimSpace(in.FirstName),
			RecipientLast:  strings.TrimSpace(in.LastName),
			Message:        strings.TrimSpace(in.Message),
			Token:          newInviteToken(),
			CreatedAt:      s.Clock.Now(),
		}
		if _, err := s.Repos.Social.CreateInvitation(s.Ctx, s.Tx, invite); err != nil {
			return fmt.Errorf("create invitation: %w", err)
		}
		senderName := strings.TrimSpace(u.Row.FirstName + " " + u.Row.LastName)
		recipientName := strings.TrimSpace(in.FirstName + " " + in.LastName)
		return ss.email.SendTemplateTo(s, u, email.TplInvite, recipient, recipientName, map[string]interface{}{
			"SenderName": senderName,
			"InviteURL":  fmt.Sprintf("%s/signup?invite=%s", ss.baseURL, invite.Token),
		})
	})
	if err != nil {
		return nil, err
	}
	return invite, nil
}

func (ss *socialService) UpdateNotificationFrequency(ctx context.Context, userID uuid.UUID, frequency string) error {
	switch frequency {
	case "OFF", "SHORT", "MEDIUM", "LONG":
	default:
		return fmt.Errorf("%w: invalid frequency %q", gamestate.ErrValidation, frequency)
	}
	return ss.env.InScope(ctx, func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, userID)
		if err != nil {
			return err
		}
		settings := u.Notification
		if settings == nil {
			settings = &types.UserNotification{UserID: userID}
		}
		settings.ActivityAlertFrequency = frequency
		settings.UpdatedAt = s.Clock.Now()
		return s.Repos.Notification.Upsert(s.Ctx, s.Tx, settings)
	})
}

func newInviteToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
