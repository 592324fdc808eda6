// Package meta parses and authenticates WhatsApp Cloud API webhooks.
package meta

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"channel-gateway/internal/domain"
	"channel-gateway/internal/ports"
)

const ProviderName = "meta"

// SignatureHeader carries "sha256=<hex hmac of body>".
const SignatureHeader = "X-Hub-Signature-256"

type payload struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID      string   `json:"id"`
	Changes []change `json:"changes"`
}

type change struct {
	Field string `json:"field"`
	Value value  `json:"value"`
}

type value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         metadata  `json:"metadata"`
	Messages         []message `json:"messages"`
	Statuses         []status  `json:"statuses"`
}

type metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type message struct {
	From     string `json:"from"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Text     *text  `json:"text,omitempty"`
	Image    *media `json:"image,omitempty"`
	Video    *media `json:"video,omitempty"`
	Audio    *media `json:"audio,omitempty"`
	Document *media `json:"document,omitempty"`
}

type text struct {
	Body string `json:"body"`
}

type media struct {
	ID      string `json:"id"`
	Link    string `json:"link,omitempty"`
	Caption string `json:"caption,omitempty"`
}

type status struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	RecipientID string     `json:"recipient_id"`
	Errors      []apiError `json:"errors"`
}

type apiError struct {
	Code  int    `json:"code"`
	Title string `json:"title"`
}

// Normalizer parses Cloud API change notifications.
type Normalizer struct{}

func (Normalizer) Provider() string { return ProviderName }

// Parse returns one event per message and per status in the notification.
// Message types without text or media are skipped.
func (Normalizer) Parse(raw ports.RawPayload) ([]ports.InboundEvent, error) {
	var p payload
	if err := json.Unmarshal(raw.Body, &p); err != nil {
		return nil, fmt.Errorf("decode meta payload: %w", err)
	}

	var events []ports.InboundEvent
	for _, e := range p.Entry {
		for _, c := range e.Changes {
			business := whatsappAddress(c.Value.Metadata.DisplayPhoneNumber)
			for _, m := range c.Value.Messages {
				ev, ok := messageEvent(m, business)
				if ok {
					events = append(events, ev)
				}
			}
			for _, s := range c.Value.Statuses {
				events = append(events, statusEvent(s, business))
			}
		}
	}
	return events, nil
}

func messageEvent(m message, business string) (ports.InboundEvent, bool) {
	ev := ports.InboundEvent{
		Kind:       ports.EventKindMessage,
		Provider:   ProviderName,
		Channel:    domain.ChannelWhatsApp,
		ExternalID: m.ID,
		From:       whatsappAddress(m.From),
		To:         business,
		MediaURLs:  []string{},
	}
	if m.Text != nil {
		ev.Body = m.Text.Body
	}
	for _, md := range []*media{m.Image, m.Video, m.Audio, m.Document} {
		if md == nil {
			continue
		}
		// Cloud API hands out media ids; a link is only present for
		// media sent by the business itself.
		ref := md.Link
		if ref == "" {
			ref = "whatsapp-media:" + md.ID
		}
		ev.MediaURLs = append(ev.MediaURLs, ref)
		if ev.Body == "" {
			ev.Body = md.Caption
		}
	}
	if ev.ExternalID == "" || (ev.Body == "" && len(ev.MediaURLs) == 0) {
		return ports.InboundEvent{}, false
	}
	return ev, true
}

func statusEvent(s status, business string) ports.InboundEvent {
	ev := ports.InboundEvent{
		Kind:           ports.EventKindStatus,
		Provider:       ProviderName,
		Channel:        domain.ChannelWhatsApp,
		ExternalID:     s.ID,
		From:           business,
		To:             whatsappAddress(s.RecipientID),
		ProviderStatus: strings.ToLower(s.Status),
	}
	switch ev.ProviderStatus {
	case "sent":
		ev.Status = domain.StatusSent
	case "delivered":
		ev.Status = domain.StatusDelivered
	case "read":
		ev.Status = domain.StatusRead
	case "failed":
		ev.Status = domain.StatusFailed
	}
	if len(s.Errors) > 0 {
		ev.ErrorCode = strconv.Itoa(s.Errors[0].Code)
		ev.ErrorMessage = s.Errors[0].Title
	}
	return ev
}

// whatsappAddress renders a Cloud API wa_id (digits only) the way Twilio
// addresses WhatsApp users.
func whatsappAddress(waID string) string {
	if waID == "" {
		return ""
	}
	digits := strings.TrimPrefix(strings.ReplaceAll(waID, " ", ""), "+")
	return domain.MarkerWhatsApp + "+" + digits
}

// VerifySignature checks an X-Hub-Signature-256 header against body.
func VerifySignature(appSecret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok || appSecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sig), []byte(computed))
}

// Sign returns the header value Meta would send for body.
func Sign(appSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
