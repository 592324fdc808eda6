// Package resend implements the email sender on the Resend REST API.
package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"channel-gateway/internal/adapters/provider/httpx"
	"channel-gateway/internal/domain"
	"channel-gateway/internal/ports"
)

const (
	DefaultBaseURL = "https://api.resend.com"
	DefaultFrom    = "onboarding@resend.dev"
	DefaultSubject = "New message"
)

// Config holds Resend credentials.
type Config struct {
	APIKey         string
	From           string
	DefaultSubject string
	BaseURL        string
	Timeout        time.Duration
}

// Email sends messages through POST /emails.
type Email struct {
	cfg  Config
	http *http.Client
}

// NewEmail requires an API key.
func NewEmail(cfg Config) (*Email, error) {
	if cfg.APIKey == "" {
		return nil, &domain.ConfigurationError{Channel: domain.ChannelEmail, Reason: "resend api key missing"}
	}
	if cfg.From == "" {
		cfg.From = DefaultFrom
	}
	if cfg.DefaultSubject == "" {
		cfg.DefaultSubject = DefaultSubject
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Email{cfg: cfg, http: httpx.NewClient(cfg.Timeout)}, nil
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Name       string `json:"name"`
}

func (e *Email) Channel() domain.Channel { return domain.ChannelEmail }

func (e *Email) Validate(p ports.SendPayload) error {
	to := strings.TrimSpace(p.To)
	if to == "" {
		return &domain.ValidationError{Field: "to", Reason: "destination required"}
	}
	if !strings.Contains(to, "@") {
		return &domain.ValidationError{Field: "to", Reason: "not an email address"}
	}
	if p.Body == "" {
		return &domain.ValidationError{Field: "body", Reason: "body required"}
	}
	return nil
}

func (e *Email) Send(ctx context.Context, p ports.SendPayload) ports.SendResult {
	if err := e.Validate(p); err != nil {
		return ports.Failed(ports.FailureValidation, err.Error())
	}

	subject := p.Subject
	if subject == "" {
		subject = e.cfg.DefaultSubject
	}
	payload, err := json.Marshal(sendRequest{
		From:    e.cfg.From,
		To:      []string{strings.TrimSpace(p.To)},
		Subject: subject,
		HTML:    p.Body,
		Text:    p.Body,
	})
	if err != nil {
		return ports.Failed(ports.FailurePermanent, "resend: marshal request: "+err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(e.cfg.BaseURL, "/")+"/emails", bytes.NewReader(payload))
	if err != nil {
		return ports.Failed(ports.FailurePermanent, "resend: build request: "+err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpx.Do(e.http, req)
	if err != nil {
		return httpx.TransportFailure("resend", err)
	}
	if !resp.OK() {
		var er errorResponse
		_ = json.Unmarshal(resp.Body, &er)
		return httpx.StatusFailure("resend", resp.StatusCode, er.Message)
	}

	var sr sendResponse
	if err := json.Unmarshal(resp.Body, &sr); err != nil || sr.ID == "" {
		return ports.Failed(ports.FailurePermanent, "resend: response carried no id")
	}
	return ports.SendResult{Success: true, ExternalID: sr.ID}
}
