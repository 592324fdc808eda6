package transport

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"channel-gateway/internal/adapters/provider/meta"
	"channel-gateway/internal/adapters/provider/twilio"
	"channel-gateway/internal/ports"

	"github.com/gofiber/fiber/v2"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// EventHandler applies normalized webhook events. app.InboundService
// implements it.
type EventHandler interface {
	HandleEvents(ctx context.Context, events []ports.InboundEvent) error
}

// WebhookConfig carries what the webhook routes need to authenticate
// providers.
type WebhookConfig struct {
	VerifySignatures bool
	PublicBaseURL    string // scheme and host providers sign against
	TwilioAuthToken  string
	MetaAppSecret    string
	MetaVerifyToken  string
}

// WebhookHandler receives provider callbacks.
type WebhookHandler struct {
	events EventHandler
	cfg    WebhookConfig
	log    *slog.Logger
}

func NewWebhookHandler(events EventHandler, cfg WebhookConfig, log *slog.Logger) *WebhookHandler {
	return &WebhookHandler{events: events, cfg: cfg, log: log}
}

// Register mounts the webhook routes onto router.
func (h *WebhookHandler) Register(router fiber.Router) {
	if !h.cfg.VerifySignatures {
		h.log.Warn("webhook signature verification is DISABLED")
	}
	tw := h.twilioSignature()
	router.Post("/twilio", tw, h.Twilio)
	router.Post("/twilio/status", tw, h.Twilio)
	router.Get("/meta", h.MetaVerify)
	router.Post("/meta", h.metaSignature(), h.Meta)
}

// Twilio accepts inbound messages and status callbacks and answers with
// empty TwiML.
//
// POST /webhooks/twilio
// POST /webhooks/twilio/status
func (h *WebhookHandler) Twilio(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)
	form, err := url.ParseQuery(string(body))
	if err != nil {
		h.log.Error("unreadable twilio webhook", "err", err)
		return h.twiml(c)
	}
	if err := h.apply(c, twilio.Normalizer{}, ports.RawPayload{Form: form, Body: body}); err != nil {
		return writeError(c, h.log, err, nil)
	}
	return h.twiml(c)
}

func (h *WebhookHandler) twiml(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/xml")
	return c.Status(fiber.StatusOK).SendString(emptyTwiML)
}

// MetaVerify answers the WhatsApp Cloud API subscription handshake.
//
// GET /webhooks/meta?hub.mode=subscribe&hub.verify_token=...&hub.challenge=...
func (h *WebhookHandler) MetaVerify(c *fiber.Ctx) error {
	if c.Query("hub.mode") == "subscribe" && h.cfg.MetaVerifyToken != "" &&
		c.Query("hub.verify_token") == h.cfg.MetaVerifyToken {
		return c.SendString(c.Query("hub.challenge"))
	}
	return c.SendStatus(fiber.StatusForbidden)
}

// Meta accepts WhatsApp Cloud API notifications.
//
// POST /webhooks/meta
func (h *WebhookHandler) Meta(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)
	if err := h.apply(c, meta.Normalizer{}, ports.RawPayload{Body: body}); err != nil {
		return writeError(c, h.log, err, nil)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// apply parses and handles one payload. Only store failures come back:
// anything the provider cannot fix by retrying is logged and acknowledged.
func (h *WebhookHandler) apply(c *fiber.Ctx, n ports.Normalizer, raw ports.RawPayload) error {
	events, err := n.Parse(raw)
	if err != nil {
		h.log.Error("unparseable webhook", "provider", n.Provider(), "request_id", c.Locals("request_id"), "err", err)
		return nil
	}
	return h.events.HandleEvents(c.UserContext(), events)
}

func (h *WebhookHandler) twilioSignature() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !h.cfg.VerifySignatures {
			return c.Next()
		}
		params, err := url.ParseQuery(string(c.Body()))
		if err != nil {
			return c.SendStatus(fiber.StatusForbidden)
		}
		fullURL := strings.TrimRight(h.cfg.PublicBaseURL, "/") + c.OriginalURL()
		if !twilio.VerifySignature(h.cfg.TwilioAuthToken, fullURL, params, c.Get(twilio.SignatureHeader)) {
			h.log.Warn("rejected twilio webhook with bad signature", "ip", c.IP(), "url", fullURL)
			return c.SendStatus(fiber.StatusForbidden)
		}
		return c.Next()
	}
}

func (h *WebhookHandler) metaSignature() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !h.cfg.VerifySignatures {
			return c.Next()
		}
		if !meta.VerifySignature(h.cfg.MetaAppSecret, c.Body(), c.Get(meta.SignatureHeader)) {
			h.log.Warn("rejected meta webhook with bad signature", "ip", c.IP())
			return c.SendStatus(fiber.StatusForbidden)
		}
		return c.Next()
	}
}
