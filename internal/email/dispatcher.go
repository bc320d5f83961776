package email

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/locks"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/repos"
	"github.com/okapigames/farpoint-backend/internal/types"
	"github.com/okapigames/farpoint-backend/internal/utils"
)

type Mode string

const (
	ModeDirect Mode = "DIRECT"
	ModeQueue  Mode = "QUEUE"
	ModeEcho   Mode = "ECHO"
)

func ModeFromEnv(log *logger.Logger) (Mode, error) {
	raw := strings.ToUpper(utils.GetEnv("EMAIL_DISPATCHER", string(ModeQueue), log))
	switch Mode(raw) {
	case ModeDirect, ModeQueue, ModeEcho:
		return Mode(raw), nil
	}
	return "", fmt.Errorf("invalid EMAIL_DISPATCHER %q", raw)
}

// Dispatcher routes rendered emails by mode: DIRECT to the transport,
// QUEUE to the durable email_queue table, ECHO to the log. Alarm emails
// bypass the mode and always go DIRECT.
type Dispatcher struct {
	mode      Mode
	transport Transport
	templates *Templates
	queue     repos.EmailQueueRepo
	locks     locks.Manager
	log       *logger.Logger

	// Operator address for alarms and exception reports.
	exceptionAddress string
	batchSize        int
}

func NewDispatcher(mode Mode, transport Transport, templates *Templates, queue repos.EmailQueueRepo, lockMgr locks.Manager, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		mode:             mode,
		transport:        transport,
		templates:        templates,
		queue:            queue,
		locks:            lockMgr,
		log:              log.With("component", "email"),
		exceptionAddress: utils.GetEnv("EXCEPTION_EMAIL_ADDRESS", "", log),
		batchSize:        utils.GetEnvAsInt("EMAIL_QUEUE_BATCH", 100, log),
	}
}

func (d *Dispatcher) Templates() *Templates { return d.templates }

// SendTemplate renders and dispatches a template for a user inside the
// caller's scope. A QUEUE row commits with the surrounding transaction, so
// an email never leaks from a rolled-back operation.
func (d *Dispatcher) SendTemplate(s *gamestate.Scope, u *gamestate.User, key string, extra map[string]interface{}) error {
	return d.sendTemplate(s, u, key, "", "", extra)
}

// SendTemplateTo is SendTemplate with the recipient overridden, for
// templates addressed to someone other than the acting user (invites).
func (d *Dispatcher) SendTemplateTo(s *gamestate.Scope, u *gamestate.User, key, to, toName string, extra map[string]interface{}) error {
	return d.sendTemplate(s, u, key, to, toName, extra)
}

func (d *Dispatcher) sendTemplate(s *gamestate.Scope, u *gamestate.User, key, to, toName string, extra map[string]interface{}) error {
	msg, ok, err := d.templates.Render(key, u, extra)
	if err != nil {
		return err
	}
	if !ok {
		d.log.Info("Email vetoed by template", "template", key, "user_id", u.Row.ID)
		return nil
	}
	if to != "" {
		msg.To = to
		msg.ToName = toName
	}

	switch d.mode {
	case ModeDirect:
		return d.transport.Send(s.Ctx, msg)
	case ModeQueue:
		userID := u.Row.ID
		_, err := d.queue.Enqueue(s.Ctx, s.Tx, &types.EmailQueueRow{
			ID:          uuid.New(),
			UserID:      &userID,
			Recipient:   msg.To,
			Subject:     msg.Subject,
			BodyText:    msg.BodyText,
			BodyHTML:    msg.BodyHTML,
			TemplateKey: key,
		})
		return err
	case ModeEcho:
		d.log.Info("Echo email", "template", key, "to", msg.To, "subject", msg.Subject)
		return nil
	}
	return fmt.Errorf("unknown email mode %q", d.mode)
}

// SendAlarm notifies the operator address. Always DIRECT: an alarm about a
// broken pipeline must not depend on that pipeline.
func (d *Dispatcher) SendAlarm(ctx context.Context, subject, body string) error {
	if d.exceptionAddress == "" {
		d.log.Warn("No exception address configured, dropping alarm", "subject", subject)
		return nil
	}
	return d.transport.Send(ctx, Message{
		To:       d.exceptionAddress,
		Subject:  subject,
		BodyText: body,
	})
}

// DrainQueue sends queued rows oldest-first under the queue lock,
// fail-fast. Each row is deleted on success or marked failed and retained;
// one bad address never blocks the queue.
func (d *Dispatcher) DrainQueue(ctx context.Context) (int, error) {
	sent := 0
	err := locks.WithLock(ctx, d.locks, locks.LockProcessEmailQueue, 0, func() error {
		rows, err := d.queue.ListOldest(ctx, nil, d.batchSize)
		if err != nil {
			return fmt.Errorf("list email queue: %w", err)
		}
		for _, row := range rows {
			msg := Message{
				To:       row.Recipient,
				Subject:  row.Subject,
				BodyText: row.BodyText,
				BodyHTML: row.BodyHTML,
			}
			if err := d.transport.Send(ctx, msg); err != nil {
				d.log.Error("Queued email failed, retaining",
					"id", row.ID, "recipient", row.Recipient, "template", row.TemplateKey, "error", err)
				if markErr := d.queue.MarkFailed(ctx, nil, row.ID, err.Error()); markErr != nil {
					d.log.Error("Failed to mark email row", "id", row.ID, "error", markErr)
				}
				continue
			}
			if err := d.queue.Delete(ctx, nil, row.ID); err != nil {
				return fmt.Errorf("delete sent email row %s: %w", row.ID, err)
			}
			sent++
		}
		return nil
	})
	if errors.Is(err, locks.ErrAlreadyLocked) {
		d.log.Warn("Email queue drain already running, skipping")
		return sent, nil
	}
	return sent, err
}
