package ports

import (
	"net/url"

	"channel-gateway/internal/domain"
)

// RawPayload is an unparsed webhook request body.
type RawPayload struct {
	Form url.Values // decoded form fields, nil for JSON providers
	Body []byte
}

// EventKind separates new inbound content from delivery updates.
type EventKind string

const (
	EventKindMessage EventKind = "message"
	EventKindStatus  EventKind = "status"
)

// InboundEvent is the canonical form of one provider webhook event.
type InboundEvent struct {
	Kind       EventKind
	Provider   string
	Channel    domain.Channel
	ExternalID string
	From       string // raw, marker included
	To         string
	Body       string
	MediaURLs  []string

	// ProviderStatus is the status word as the provider sent it. Status is
	// its mapping onto the message lifecycle, empty when the word carries
	// no lifecycle change (queued, ringing, ...).
	ProviderStatus string
	Status         domain.Status
	ErrorCode      string
	ErrorMessage   string
}

// Normalizer parses one provider's webhook format.
type Normalizer interface {
	Provider() string
	Parse(raw RawPayload) ([]InboundEvent, error)
}
