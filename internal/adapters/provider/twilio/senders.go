package twilio

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"channel-gateway/internal/domain"
	"channel-gateway/internal/ports"
)

// Body ceilings in characters.
const (
	MaxSMSBody      = 1600
	MaxWhatsAppBody = 4096
)

// SMS sends text messages through the Messages API.
type SMS struct{ c *client }

// NewSMS requires account sid, auth token and a from number.
func NewSMS(cfg Config) (*SMS, error) {
	c, err := newClient(domain.ChannelSMS, cfg, true)
	if err != nil {
		return nil, err
	}
	return &SMS{c: c}, nil
}

func (s *SMS) Channel() domain.Channel { return domain.ChannelSMS }

func (s *SMS) Validate(p ports.SendPayload) error {
	return validateText(p, MaxSMSBody)
}

func (s *SMS) Send(ctx context.Context, p ports.SendPayload) ports.SendResult {
	if err := s.Validate(p); err != nil {
		return ports.Failed(ports.FailureValidation, err.Error())
	}
	return s.c.create(ctx, "Messages", s.c.messageForm(p.To, s.c.cfg.From, p.Body, p.MediaURLs))
}

// WhatsApp sends through the Messages API using whatsapp: addressing.
type WhatsApp struct {
	c    *client
	from string
}

// NewWhatsApp requires account sid and auth token. The sender number falls
// back to the sandbox number.
func NewWhatsApp(cfg Config) (*WhatsApp, error) {
	c, err := newClient(domain.ChannelWhatsApp, cfg, false)
	if err != nil {
		return nil, err
	}
	from := cfg.WhatsAppFrom
	if from == "" {
		from = DefaultWhatsAppFrom
	}
	return &WhatsApp{c: c, from: withWhatsAppMarker(from)}, nil
}

func (w *WhatsApp) Channel() domain.Channel { return domain.ChannelWhatsApp }

func (w *WhatsApp) Validate(p ports.SendPayload) error {
	return validateText(p, MaxWhatsAppBody)
}

func (w *WhatsApp) Send(ctx context.Context, p ports.SendPayload) ports.SendResult {
	if err := w.Validate(p); err != nil {
		return ports.Failed(ports.FailureValidation, err.Error())
	}
	form := w.c.messageForm(withWhatsAppMarker(p.To), w.from, p.Body, p.MediaURLs)
	return w.c.create(ctx, "Messages", form)
}

// Voice places an outbound call that plays the configured TwiML.
type Voice struct {
	c        *client
	twimlURL string
}

// NewVoice requires account sid, auth token and a from number.
func NewVoice(cfg Config) (*Voice, error) {
	c, err := newClient(domain.ChannelVoice, cfg, true)
	if err != nil {
		return nil, err
	}
	u := cfg.VoiceURL
	if u == "" {
		u = DefaultVoiceURL
	}
	return &Voice{c: c, twimlURL: u}, nil
}

func (v *Voice) Channel() domain.Channel { return domain.ChannelVoice }

func (v *Voice) Validate(p ports.SendPayload) error {
	if strings.TrimSpace(p.To) == "" {
		return &domain.ValidationError{Field: "to", Reason: "destination required"}
	}
	return nil
}

func (v *Voice) Send(ctx context.Context, p ports.SendPayload) ports.SendResult {
	if err := v.Validate(p); err != nil {
		return ports.Failed(ports.FailureValidation, err.Error())
	}
	form := url.Values{}
	form.Set("To", p.To)
	form.Set("From", v.c.cfg.From)
	form.Set("Url", v.twimlURL)
	if v.c.cfg.StatusCallback != "" {
		form.Set("StatusCallback", v.c.cfg.StatusCallback)
	}
	return v.c.create(ctx, "Calls", form)
}

func validateText(p ports.SendPayload, max int) error {
	if strings.TrimSpace(p.To) == "" {
		return &domain.ValidationError{Field: "to", Reason: "destination required"}
	}
	if p.Body == "" && len(p.MediaURLs) == 0 {
		return &domain.ValidationError{Field: "body", Reason: "body or media required"}
	}
	if n := utf8.RuneCountInString(p.Body); n > max {
		return &domain.ValidationError{
			Field:  "body",
			Reason: fmt.Sprintf("%d characters exceeds the %d character limit", n, max),
		}
	}
	return nil
}

func withWhatsAppMarker(addr string) string {
	if strings.HasPrefix(strings.ToLower(addr), domain.MarkerWhatsApp) {
		return addr
	}
	return domain.MarkerWhatsApp + addr
}
