package email

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/okapigames/farpoint-backend/internal/clock"
	"github.com/okapigames/farpoint-backend/internal/content"
	"github.com/okapigames/farpoint-backend/internal/db"
	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/locks"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/repos"
	"github.com/okapigames/farpoint-backend/internal/types"
)

// failingTransport rejects a single recipient and accepts everyone else.
type failingTransport struct {
	reject string
	sent   []Message
}

func (f *failingTransport) Send(_ context.Context, msg Message) error {
	if msg.To == f.reject {
		return errors.New("mailbox unavailable")
	}
	f.sent = append(f.sent, msg)
	return nil
}

type emailRig struct {
	env    *gamestate.Env
	userID uuid.UUID
}

func newEmailRig(t *testing.T) *emailRig {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	gdb, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	catalog, err := content.Load()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	log := logger.NewNop()
	clk, _ := clock.NewMock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	env := &gamestate.Env{DB: gdb, Repos: repos.New(gdb, log), Clock: clk, Catalog: catalog, Log: log}

	now := clk.Now()
	user := &types.User{
		ID:        uuid.New(),
		Email:     "ada@example.com",
		Password:  "hash",
		FirstName: "Ada",
		LastName:  "Voss",
		Epoch:     now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := env.Repos.Users.Create(context.Background(), nil, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return &emailRig{env: env, userID: user.ID}
}

func (rig *emailRig) dispatcher(t *testing.T, mode Mode, transport Transport) *Dispatcher {
	t.Helper()
	templates, err := NewTemplates()
	if err != nil {
		t.Fatalf("compile templates: %v", err)
	}
	log := logger.NewNop()
	return NewDispatcher(mode, transport, templates, rig.env.Repos.EmailQueue, locks.NewMemoryManager(), log)
}

func (rig *emailRig) send(t *testing.T, d *Dispatcher, key string, extra map[string]interface{}) {
	t.Helper()
	err := rig.env.InScope(context.Background(), func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, rig.userID)
		if err != nil {
			return err
		}
		return d.SendTemplate(s, u, key, extra)
	})
	if err != nil {
		t.Fatalf("send template: %v", err)
	}
}

func (rig *emailRig) queued(t *testing.T) []*types.EmailQueueRow {
	t.Helper()
	rows, err := rig.env.Repos.EmailQueue.ListOldest(context.Background(), nil, 100)
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	return rows
}

func TestActivityAlertVetoedWithoutTargets(t *testing.T) {
	rig := newEmailRig(t)
	echo := &EchoTransport{}
	d := rig.dispatcher(t, ModeDirect, echo)

	// The account has no targets, so the alert template vetoes itself.
	rig.send(t, d, TplActivityAlert, nil)
	if len(echo.Sent) != 0 {
		t.Fatalf("vetoed template must not send, got %d messages", len(echo.Sent))
	}
	if len(rig.queued(t)) != 0 {
		t.Fatal("vetoed template must not enqueue")
	}
}

func TestQueueModeCommitsWithScope(t *testing.T) {
	rig := newEmailRig(t)
	echo := &EchoTransport{}
	d := rig.dispatcher(t, ModeQueue, echo)

	rig.send(t, d, TplWelcome, nil)
	rows := rig.queued(t)
	if len(rows) != 1 {
		t.Fatalf("expected 1 queued row, got %d", len(rows))
	}
	if rows[0].Recipient != "ada@example.com" || rows[0].TemplateKey != TplWelcome {
		t.Fatalf("queued row is wrong: %+v", rows[0])
	}
	if len(echo.Sent) != 0 {
		t.Fatal("queue mode must not touch the transport")
	}

	sent, err := d.DrainQueue(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if sent != 1 || len(echo.Sent) != 1 {
		t.Fatalf("expected 1 sent, got sent=%d transported=%d", sent, len(echo.Sent))
	}
	if !strings.Contains(echo.Sent[0].BodyText, "Ada") {
		t.Fatalf("rendered body should address the user, got %q", echo.Sent[0].BodyText)
	}
	if len(rig.queued(t)) != 0 {
		t.Fatal("sent rows must be deleted")
	}
}

func TestQueueRollsBackWithScope(t *testing.T) {
	rig := newEmailRig(t)
	d := rig.dispatcher(t, ModeQueue, &EchoTransport{})

	boom := errors.New("boom")
	err := rig.env.InScope(context.Background(), func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, rig.userID)
		if err != nil {
			return err
		}
		if err := d.SendTemplate(s, u, TplWelcome, nil); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the scope error back, got %v", err)
	}
	if len(rig.queued(t)) != 0 {
		t.Fatal("a rolled-back scope must not leak queued email")
	}
}

func TestDrainRetainsFailedRows(t *testing.T) {
	rig := newEmailRig(t)
	transport := &failingTransport{reject: "bad@example.com"}
	d := rig.dispatcher(t, ModeQueue, transport)

	err := rig.env.InScope(context.Background(), func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, rig.userID)
		if err != nil {
			return err
		}
		if err := d.SendTemplateTo(s, u, TplWelcome, "bad@example.com", "Bad Address", nil); err != nil {
			return err
		}
		return d.SendTemplate(s, u, TplWelcome, nil)
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	sent, err := d.DrainQueue(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if sent != 1 || len(transport.sent) != 1 {
		t.Fatalf("the good row should still go out, sent=%d", sent)
	}
	rows := rig.queued(t)
	if len(rows) != 1 {
		t.Fatalf("the bad row should be retained, got %d rows", len(rows))
	}
	if rows[0].Attempts != 1 || rows[0].LastError == "" {
		t.Fatalf("failed row should carry attempt bookkeeping: %+v", rows[0])
	}
}

func TestSendTemplateToOverridesRecipient(t *testing.T) {
	rig := newEmailRig(t)
	d := rig.dispatcher(t, ModeQueue, &EchoTransport{})

	err := rig.env.InScope(context.Background(), func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, rig.userID)
		if err != nil {
			return err
		}
		return d.SendTemplateTo(s, u, TplInvite, "friend@example.com", "Kit", map[string]interface{}{
			"SenderName": "Ada Voss",
			"InviteURL":  "https://game.example.com/signup?invite=tok",
		})
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	rows := rig.queued(t)
	if len(rows) != 1 || rows[0].Recipient != "friend@example.com" {
		t.Fatalf("invite should go to the invitee, got %+v", rows)
	}
	if !strings.Contains(rows[0].Subject, "Ada Voss") {
		t.Fatalf("invite subject should name the sender, got %q", rows[0].Subject)
	}
}

func TestAlarmBypassesQueue(t *testing.T) {
	t.Setenv("EXCEPTION_EMAIL_ADDRESS", "ops@example.com")
	rig := newEmailRig(t)
	echo := &EchoTransport{}
	d := rig.dispatcher(t, ModeQueue, echo)

	if err := d.SendAlarm(context.Background(), "Renderer stalled", "oldest job is 20m late"); err != nil {
		t.Fatalf("alarm: %v", err)
	}
	if len(echo.Sent) != 1 || echo.Sent[0].To != "ops@example.com" {
		t.Fatalf("alarm should go straight to the operator, got %+v", echo.Sent)
	}
	if len(rig.queued(t)) != 0 {
		t.Fatal("alarms must not be queued")
	}
}

func TestUnknownTemplateIsAnError(t *testing.T) {
	rig := newEmailRig(t)
	d := rig.dispatcher(t, ModeDirect, &EchoTransport{})
	err := rig.env.InScope(context.Background(), func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, rig.userID)
		if err != nil {
			return err
		}
		return d.SendTemplate(s, u, "EML_NOPE", nil)
	})
	if err == nil {
		t.Fatal("unknown template key should error")
	}
}
