// Package twilio implements the SMS, WhatsApp and Voice senders on the
// Twilio REST API, and parses and authenticates Twilio webhooks.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"channel-gateway/internal/adapters/provider/httpx"
	"channel-gateway/internal/domain"
	"channel-gateway/internal/ports"
)

const (
	DefaultBaseURL      = "https://api.twilio.com"
	DefaultWhatsAppFrom = "whatsapp:+14155238886"
	DefaultVoiceURL     = "https://handler.twilio.com/twiml/EH123456789"
	apiVersion          = "2010-04-01"
)

// Config holds Twilio credentials. Senders copy what they need at
// construction and never read the environment.
type Config struct {
	AccountSID     string
	AuthToken      string
	From           string // sender number for SMS and Voice
	WhatsAppFrom   string // defaults to DefaultWhatsAppFrom
	VoiceURL       string // TwiML fetched when a call connects
	StatusCallback string // delivery status webhook, optional
	BaseURL        string // defaults to DefaultBaseURL
	Timeout        time.Duration
}

// client performs authenticated resource creation against one account.
type client struct {
	cfg     Config
	http    *http.Client
	timeout time.Duration
}

func newClient(ch domain.Channel, cfg Config, requireFrom bool) (*client, error) {
	var missing []string
	if cfg.AccountSID == "" {
		missing = append(missing, "account sid")
	}
	if cfg.AuthToken == "" {
		missing = append(missing, "auth token")
	}
	if requireFrom && cfg.From == "" {
		missing = append(missing, "from number")
	}
	if len(missing) > 0 {
		return nil, &domain.ConfigurationError{
			Channel: ch,
			Reason:  "twilio " + strings.Join(missing, ", ") + " missing",
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &client{cfg: cfg, http: httpx.NewClient(cfg.Timeout), timeout: cfg.Timeout}, nil
}

type resource struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// create posts form to the account's Messages or Calls collection.
func (c *client) create(ctx context.Context, collection string, form url.Values) ports.SendResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/%s/Accounts/%s/%s.json",
		strings.TrimRight(c.cfg.BaseURL, "/"), apiVersion, url.PathEscape(c.cfg.AccountSID), collection)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return ports.Failed(ports.FailurePermanent, "twilio: build request: "+err.Error())
	}
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := httpx.Do(c.http, req)
	if err != nil {
		return httpx.TransportFailure("twilio", err)
	}

	if !resp.OK() {
		var ae apiError
		detail := ""
		if json.Unmarshal(resp.Body, &ae) == nil && ae.Message != "" {
			detail = fmt.Sprintf("%s (code %d)", ae.Message, ae.Code)
		}
		return httpx.StatusFailure("twilio", resp.StatusCode, detail)
	}

	var r resource
	if err := json.Unmarshal(resp.Body, &r); err != nil {
		return ports.Failed(ports.FailurePermanent, "twilio: decode response: "+err.Error())
	}
	if r.SID == "" {
		return ports.Failed(ports.FailurePermanent, "twilio: response carried no sid")
	}
	return ports.SendResult{Success: true, ExternalID: r.SID}
}

func (c *client) messageForm(to, from, body string, media []string) url.Values {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	if body != "" {
		form.Set("Body", body)
	}
	for _, m := range media {
		form.Add("MediaUrl", m)
	}
	if c.cfg.StatusCallback != "" {
		form.Set("StatusCallback", c.cfg.StatusCallback)
	}
	return form
}
