package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/okapigames/farpoint-backend/internal/email"
	"github.com/okapigames/farpoint-backend/internal/events"
	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/logger"
)

type MessageService interface {
	Get(ctx context.Context, userID, messageID uuid.UUID) (map[string]interface{}, error)
	MarkRead(ctx context.Context, userID, messageID uuid.UUID) error
	Unlock(ctx context.Context, userID, messageID uuid.UUID, passphrase string) error
	// Forward emails an unlocked message to an outside recipient.
	Forward(ctx context.Context, userID, messageID uuid.UUID, recipientEmail string) error
	MarkMissionViewed(ctx context.Context, userID uuid.UUID, missionDef string) error
	MarkAchievementViewed(ctx context.Context, userID uuid.UUID, achievementKey string) error
	MarkSpeciesViewed(ctx context.Context, userID uuid.UUID, speciesKey string) error
	AddProgress(ctx context.Context, userID uuid.UUID, key, value string) error
	ResetProgress(ctx context.Context, userID uuid.UUID, key string) error
}

type messageService struct {
	env      *gamestate.Env
	dispatch *events.Dispatcher
	email    *email.Dispatcher
	log      *logger.Logger
}

func NewMessageService(env *gamestate.Env, dispatch *events.Dispatcher, emailDispatch *email.Dispatcher, log *logger.Logger) MessageService {
	return &messageService{env: env, dispatch: dispatch, email: emailDispatch, log: log.With("service", "MessageService")}
}

func (ms *messageService) Get(ctx context.Context, userID, messageID uuid.UUID) (map[string]interface{}, error) {
	var wire map[string]interface{}
	err := ms.withMessage(ctx, userID, messageID, func(m *gamestate.Message) error {
		wire = m.Wire()
		return nil
	})
	return wire, err
}

func (ms *messageService) Forward(ctx context.Context, userID, messageID uuid.UUID, recipientEmail string) error {
	recipient := strings.ToLower(strings.TrimSpace(recipientEmail))
	if recipient == "" || !strings.Contains(recipient, "@") {
		return fmt.Errorf("%w: invalid recipient email", gamestate.ErrValidation)
	}
	return ms.env.InScope(ctx, func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, userID)
		if err != nil {
			return err
		}
		m, ok := u.Messages.Get(messageID.String())
		if !ok {
			return fmt.Errorf("%w: message %s", gamestate.ErrNotFound, messageID)
		}
		if !m.Unlocked() {
			return fmt.Errorf("%w: message is locked", gamestate.ErrValidation)
		}
		def := m.Def()
		if def == nil {
			return fmt.Errorf("message %s has no content definition", messageID)
		}
		senderName := strings.TrimSpace(u.Row.FirstName + " " + u.Row.LastName)
		return ms.email.SendTemplateTo(s, u, email.TplMessageForward, recipient, "", map[string]interface{}{
			"SenderName":     senderName,
			"MessageSender":  def.Sender,
			"MessageSubject": def.Subject,
			"MessageBody":    def.Body,
		})
	})
}

func (ms *messageService) MarkRead(ctx context.Context, userID, messageID uuid.UUID) error {
	return ms.withMessage(ctx, userID, messageID, func(m *gamestate.Message) error {
		return m.MarkRead()
	})
}

func (ms *messageService) Unlock(ctx context.Context, userID, messageID uuid.UUID, passphrase string) error {
	return ms.withMessage(ctx, userID, messageID, func(m *gamestate.Message) error {
		return m.Unlock(passphrase)
	})
}

func (ms *messageService) withMessage(ctx context.Context, userID, messageID uuid.UUID, fn func(*gamestate.Message) error) error {
	return ms.env.InScope(ctx, func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, userID)
		if err != nil {
			return err
		}
		m, ok := u.Messages.Get(messageID.String())
		if !ok {
			return fmt.Errorf("%w: message %s", gamestate.ErrNotFound, messageID)
		}
		return fn(m)
	})
}

func (ms *messageService) MarkMissionViewed(ctx context.Context, userID uuid.UUID, missionDef string) error {
	return ms.env.InScope(ctx, func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, userID)
		if err != nil {
			return err
		}
		m, ok := u.Missions.Get(missionDef)
		if !ok {
			return fmt.Errorf("%w: mission %s", gamestate.ErrNotFound, missionDef)
		}
		return m.MarkViewed()
	})
}

func (ms *messageService) MarkAchievementViewed(ctx context.Context, userID uuid.UUID, achievementKey string) error {
	return ms.env.InScope(ctx, func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, userID)
		if err != nil {
			return err
		}
		a, ok := u.Achievements.Get(achievementKey)
		if !ok {
			return fmt.Errorf("%w: achievement %s", gamestate.ErrNotFound, achievementKey)
		}
		return a.MarkViewed()
	})
}

func (ms *messageService) MarkSpeciesViewed(ctx context.Context, userID uuid.UUID, speciesKey string) error {
	return ms.env.InScope(ctx, func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, userID)
		if err != nil {
			return err
		}
		sp, ok := u.Species.Get(speciesKey)
		if !ok {
			return fmt.Errorf("%w: species %s", gamestate.ErrNotFound, speciesKey)
		}
		return sp.MarkViewed()
	})
}

func (ms *messageService) AddProgress(ctx context.Context, userID uuid.UUID, key, value string) error {
	return ms.env.InScope(ctx, func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, userID)
		if err != nil {
			return err
		}
		if _, err := u.AddProgressKey(key, value); err != nil {
			return err
		}
		return ms.dispatch.ProgressAchieved(u, key, value)
	})
}

func (ms *messageService) ResetProgress(ctx context.Context, userID uuid.UUID, key string) error {
	return ms.env.InScope(ctx, func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, userID)
		if err != nil {
			return err
		}
		return u.ResetProgressKey(key)
	})
}
