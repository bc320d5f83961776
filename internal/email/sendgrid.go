package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/utils"
)

// Transport delivers one rendered email to the outside world.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

type Message struct {
	To       string
	ToName   string
	Subject  string
	BodyText string
	BodyHTML string
}

type SendGridConfig struct {
	APIKey     string
	BaseURL    string
	FromEmail  string
	FromName   string
	Timeout    time.Duration
	MaxRetries int
}

func SendGridConfigFromEnv(log *logger.Logger) SendGridConfig {
	return SendGridConfig{
		APIKey:     utils.GetEnv("SENDGRID_API_KEY", "", log),
		BaseURL:    utils.GetEnv("SENDGRID_BASE_URL", "https://api.sendgrid.com", log),
		FromEmail:  utils.GetEnv("SENDGRID_FROM_EMAIL", "", log),
		FromName:   utils.GetEnv("SENDGRID_FROM_NAME", "Farpoint Mission Control", log),
		Timeout:    time.Duration(utils.GetEnvAsInt("SENDGRID_TIMEOUT_SECONDS", 30, log)) * time.Second,
		MaxRetries: utils.GetEnvAsInt("SENDGRID_MAX_RETRIES", 4, log),
	}
}

type sendGridTransport struct {
	log        *logger.Logger
	cfg        SendGridConfig
	httpClient *http.Client
}

func NewSendGridTransport(log *logger.Logger, cfg SendGridConfig) (Transport, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing SENDGRID_API_KEY")
	}
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, fmt.Errorf("missing SENDGRID_FROM_EMAIL")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 4
	}
	return &sendGridTransport{
		log:        log.With("client", "SendGridTransport"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgMailSend struct {
	Personalizations []struct {
		To []sgAddress `json:"to"`
	} `json:"personalizations"`
	From    sgAddress   `json:"from"`
	Subject string      `json:"subject"`
	Content []sgContent `json:"content"`
}

func (t *sendGridTransport) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("sendgrid: recipient required")
	}
	if strings.TrimSpace(msg.Subject) == "" {
		return fmt.Errorf("sendgrid: subject required")
	}
	contents := []sgContent{}
	if body := strings.TrimSpace(msg.BodyText); body != "" {
		contents = append(contents, sgContent{Type: "text/plain", Value: body})
	}
	if body := strings.TrimSpace(msg.BodyHTML); body != "" {
		contents = append(contents, sgContent{Type: "text/html", Value: body})
	}
	if len(contents) == 0 {
		return fmt.Errorf("sendgrid: body required")
	}

	wire := sgMailSend{
		From:    sgAddress{Email: t.cfg.FromEmail, Name: t.cfg.FromName},
		Subject: msg.Subject,
		Content: contents,
	}
	wire.Personalizations = append(wire.Personalizations, struct {
		To []sgAddress `json:"to"`
	}{To: []sgAddress{{Email: msg.To, Name: msg.ToName}}})

	backoff := 1 * time.Second
	var lastErr error
	for attempt := 0; attempt <= t.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		status, err := t.doOnce(ctx, wire)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryableStatus(status) || attempt == t.cfg.MaxRetries {
			return err
		}
		t.log.Warn("Sendgrid send retrying",
			"to", msg.To, "attempt", attempt+1, "max_retries", t.cfg.MaxRetries,
			"sleep", backoff.String(), "error", err.Error())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}

func (t *sendGridTransport) doOnce(ctx context.Context, wire sgMailSend) (int, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(wire); err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/v3/mail/send", &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("sendgrid http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return resp.StatusCode, nil
}

func retryableStatus(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

// EchoTransport logs instead of sending. Used in tests and local dev.
type EchoTransport struct {
	Log  *logger.Logger
	Sent []Message
}

func (e *EchoTransport) Send(_ context.Context, msg Message) error {
	if e.Log != nil {
		e.Log.Info("Echo email", "to", msg.To, "subject", msg.Subject)
	}
	e.Sent = append(e.Sent, msg)
	return nil
}
