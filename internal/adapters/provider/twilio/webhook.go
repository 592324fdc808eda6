package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"channel-gateway/internal/domain"
	"channel-gateway/internal/ports"
)

const ProviderName = "twilio"

// SignatureHeader carries the request signature on every Twilio webhook.
const SignatureHeader = "X-Twilio-Signature"

// Normalizer parses Twilio's form-encoded message, status and call webhooks.
type Normalizer struct{}

func (Normalizer) Provider() string { return ProviderName }

// Parse returns exactly one event per request.
func (Normalizer) Parse(raw ports.RawPayload) ([]ports.InboundEvent, error) {
	form := raw.Form
	if form == nil {
		parsed, err := url.ParseQuery(string(raw.Body))
		if err != nil {
			return nil, fmt.Errorf("parse twilio form: %w", err)
		}
		form = parsed
	}

	ev := ports.InboundEvent{
		Provider:     ProviderName,
		From:         form.Get("From"),
		To:           form.Get("To"),
		Body:         form.Get("Body"),
		ErrorCode:    form.Get("ErrorCode"),
		ErrorMessage: form.Get("ErrorMessage"),
	}

	callSID := form.Get("CallSid")
	switch {
	case form.Get("MessageSid") != "":
		ev.ExternalID = form.Get("MessageSid")
	case form.Get("SmsSid") != "":
		ev.ExternalID = form.Get("SmsSid")
	case callSID != "":
		ev.ExternalID = callSID
	default:
		return nil, errors.New("twilio webhook without MessageSid, SmsSid or CallSid")
	}

	if callSID != "" && ev.ExternalID == callSID {
		ev.Channel = domain.ChannelVoice
		ev.ProviderStatus = strings.ToLower(form.Get("CallStatus"))
		ev.Status = mapCallStatus(ev.ProviderStatus)
	} else {
		ev.Channel = domain.InferChannel(ev.From)
		if ev.Channel == domain.ChannelSMS {
			// status callbacks for outbound WhatsApp carry the marker on To
			ev.Channel = domain.InferChannel(ev.To)
		}
		ev.ProviderStatus = strings.ToLower(firstNonEmpty(form.Get("MessageStatus"), form.Get("SmsStatus")))
		ev.Status = mapMessageStatus(ev.ProviderStatus)
		ev.MediaURLs = mediaURLs(form)
	}

	ev.Kind = ports.EventKindMessage
	if ev.ProviderStatus != "" && isDeliveryStatus(ev.ProviderStatus) && ev.Body == "" && len(ev.MediaURLs) == 0 {
		ev.Kind = ports.EventKindStatus
	}
	if ev.Channel == domain.ChannelVoice {
		ev.Kind = ports.EventKindStatus
	}
	return []ports.InboundEvent{ev}, nil
}

// mediaURLs reads MediaUrl0..MediaUrl{NumMedia-1}. A missing or malformed
// NumMedia still picks up any numbered fields present.
func mediaURLs(form url.Values) []string {
	n, err := strconv.Atoi(form.Get("NumMedia"))
	if err != nil || n < 0 {
		n = 0
	}
	urls := []string{}
	for i := 0; ; i++ {
		u := form.Get("MediaUrl" + strconv.Itoa(i))
		if u == "" {
			if i >= n {
				break
			}
			continue
		}
		urls = append(urls, u)
	}
	return urls
}

// isDeliveryStatus reports whether s is a word Twilio uses in status
// callbacks. Inbound messages carry "received", which is not one.
func isDeliveryStatus(s string) bool {
	switch s {
	case "accepted", "queued", "sending", "sent", "delivered", "undelivered", "failed", "read",
		"initiated", "ringing", "in-progress", "completed", "busy", "no-answer", "canceled":
		return true
	}
	return false
}

func mapMessageStatus(s string) domain.Status {
	switch s {
	case "sent":
		return domain.StatusSent
	case "delivered":
		return domain.StatusDelivered
	case "read":
		return domain.StatusRead
	case "failed", "undelivered":
		return domain.StatusFailed
	}
	return ""
}

func mapCallStatus(s string) domain.Status {
	switch s {
	case "completed":
		return domain.StatusDelivered
	case "busy", "no-answer", "failed", "canceled":
		return domain.StatusFailed
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Signature computes the X-Twilio-Signature value for a POST to fullURL:
// base64(HMAC-SHA1(authToken, fullURL + each param name and value, sorted by name)).
func Signature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the request.
func VerifySignature(authToken, fullURL string, params url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	expected := Signature(authToken, fullURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}
