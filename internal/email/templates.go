package email

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/okapigames/farpoint-backend/internal/gamestate"
)

// Template keys referenced by deferred EMAIL rows and the notification
// scanners.
const (
	TplValidateAccount = "EML_VALIDATE_ACCOUNT"
	TplWelcome         = "EML_WELCOME"
	TplInvite          = "EML_INVITE"
	TplActivityAlert   = "EML_ACTIVITY_ALERT"
	TplLure            = "EML_LURE"
	TplReceipt         = "EML_RECEIPT"
	TplMessageForward  = "EML_MESSAGE_FORWARD"
)

// Template is one renderable email. ShouldSend may veto delivery for this
// user and contribute extra context to the render.
type Template struct {
	Key        string
	Subject    string
	Body       string
	ShouldSend func(u *gamestate.User) (bool, map[string]interface{})

	subjectTpl *template.Template
	bodyTpl    *template.Template
}

// Templates holds the compiled template set, built once at boot.
type Templates struct {
	byKey map[string]*Template
}

func NewTemplates(extra ...*Template) (*Templates, error) {
	set := &Templates{byKey: make(map[string]*Template)}
	for _, t := range builtinTemplates() {
		if err := set.add(t); err != nil {
			return nil, err
		}
	}
	for _, t := range extra {
		if err := set.add(t); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func (s *Templates) add(t *Template) error {
	if t.Key == "" || t.Subject == "" || t.Body == "" {
		return fmt.Errorf("email template %q is incomplete", t.Key)
	}
	if _, dup := s.byKey[t.Key]; dup {
		return fmt.Errorf("duplicate email template %q", t.Key)
	}
	var err error
	if t.subjectTpl, err = template.New(t.Key + ":subject").Parse(t.Subject); err != nil {
		return fmt.Errorf("parse subject of %s: %w", t.Key, err)
	}
	if t.bodyTpl, err = template.New(t.Key + ":body").Parse(t.Body); err != nil {
		return fmt.Errorf("parse body of %s: %w", t.Key, err)
	}
	s.byKey[t.Key] = t
	return nil
}

func (s *Templates) Get(key string) *Template {
	return s.byKey[key]
}

// Render evaluates the template for a user. The bool is false when the
// template's ShouldSend vetoed delivery.
func (s *Templates) Render(key string, u *gamestate.User, extra map[string]interface{}) (Message, bool, error) {
	t := s.byKey[key]
	if t == nil {
		return Message{}, false, fmt.Errorf("unknown email template %q", key)
	}
	ctx := map[string]interface{}{
		"FirstName": u.Row.FirstName,
		"LastName":  u.Row.LastName,
		"Email":     u.Row.Email,
	}
	if t.ShouldSend != nil {
		ok, contributed := t.ShouldSend(u)
		if !ok {
			return Message{}, false, nil
		}
		for k, v := range contributed {
			ctx[k] = v
		}
	}
	for k, v := range extra {
		ctx[k] = v
	}

	var subject, body bytes.Buffer
	if err := t.subjectTpl.Execute(&subject, ctx); err != nil {
		return Message{}, false, fmt.Errorf("render subject of %s: %w", key, err)
	}
	if err := t.bodyTpl.Execute(&body, ctx); err != nil {
		return Message{}, false, fmt.Errorf("render body of %s: %w", key, err)
	}
	name := u.Row.FirstName
	if u.Row.LastName != "" {
		name = name + " " + u.Row.LastName
	}
	return Message{
		To:       u.Row.Email,
		ToName:   name,
		Subject:  subject.String(),
		BodyText: body.String(),
	}, true, nil
}

func builtinTemplates() []*Template {
	return []*Template{
		{
			Key:     TplValidateAccount,
			Subject: "Confirm your Farpoint account",
			Body: "Hello {{.FirstName}},\n\n" +
				"Your rover is waiting on the surface. Confirm your account to take control:\n\n" +
				"{{.ValidateURL}}\n\n" +
				"Mission Control",
		},
		{
			Key:     TplWelcome,
			Subject: "Welcome to Farpoint",
			Body: "Hello {{.FirstName}},\n\n" +
				"Your lander has touched down and your rover is online. Log in and send it somewhere interesting.\n\n" +
				"Mission Control",
		},
		{
			Key:     TplInvite,
			Subject: "{{.SenderName}} invited you to Farpoint",
			Body: "{{.SenderName}} wants you to join the Farpoint survey.\n\n" +
				"Accept the invitation here:\n\n{{.InviteURL}}\n\n" +
				"Mission Control",
		},
		{
			Key:     TplActivityAlert,
			Subject: "Your rover has news",
			Body: "Hello {{.FirstName}},\n\n" +
				"Things happened on the surface while you were away. Log in to catch up.\n\n" +
				"Mission Control",
			ShouldSend: func(u *gamestate.User) (bool, map[string]interface{}) {
				// Nothing to report for accounts that never placed a target.
				for _, rover := range u.Rovers.All() {
					if rover.Targets.Len() > 0 {
						return true, nil
					}
				}
				return false, nil
			},
		},
		{
			Key:     TplLure,
			Subject: "The surface misses you",
			Body: "Hello {{.FirstName}},\n\n" +
				"{{.LureBody}}\n\n" +
				"Mission Control",
		},
		{
			Key:     TplMessageForward,
			Subject: "{{.SenderName}} shared a transmission: {{.MessageSubject}}",
			Body: "{{.SenderName}} forwarded you a transmission from the Farpoint survey.\n\n" +
				"From: {{.MessageSender}}\nSubject: {{.MessageSubject}}\n\n" +
				"{{.MessageBody}}\n\n" +
				"Mission Control",
		},
		{
			Key:     TplReceipt,
			Subject: "Your Farpoint receipt",
			Body: "Hello {{.FirstName}},\n\n" +
				"Thanks for your purchase of {{.ProductName}} ({{.AmountFormatted}}).\n\n" +
				"Mission Control",
		},
	}
}
