package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channel is the transport a message travels on.
type Channel string

const (
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WHATSAPP"
	ChannelEmail    Channel = "EMAIL"
	ChannelTwitter  Channel = "TWITTER"
	ChannelFacebook Channel = "FACEBOOK"
	ChannelVoice    Channel = "VOICE"
	ChannelOther    Channel = "OTHER"
)

// ParseChannel maps a wire value onto a known Channel.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(s); c {
	case ChannelSMS, ChannelWhatsApp, ChannelEmail, ChannelTwitter, ChannelFacebook, ChannelVoice, ChannelOther:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedChannel, s)
}

// Direction tells whether a message came from the contact or went to them.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// Status represents the lifecycle state of a message.
type Status string

const (
	StatusPending   Status = "PENDING"   // Created, provider not called yet
	StatusSent      Status = "SENT"      // Accepted by the provider
	StatusDelivered Status = "DELIVERED" // Provider confirmed network delivery
	StatusRead      Status = "READ"      // Recipient opened it (channel dependent)
	StatusFailed    Status = "FAILED"    // Terminal
)

// transitions lists every legal status change. Anything absent is rejected.
var transitions = map[Status][]Status{
	StatusPending: {StatusSent, StatusFailed},
	StatusSent:    {StatusDelivered, StatusRead},
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Message is one unit of communication on one channel.
type Message struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Seq           int64      `gorm:"autoIncrement;index" json:"seq"`
	ContactID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"contact_id"`
	SenderUserID  *uuid.UUID `gorm:"type:uuid" json:"sender_user_id,omitempty"`
	Channel       Channel    `gorm:"size:16;not null" json:"channel"`
	Direction     Direction  `gorm:"size:16;not null;uniqueIndex:ux_messages_external_direction,priority:2" json:"direction"`
	Status        Status     `gorm:"size:16;not null;index" json:"status"`
	Subject       string     `gorm:"size:500" json:"subject,omitempty"`
	Body          string     `gorm:"type:text" json:"body"`
	MediaURLs     []string   `gorm:"type:text;serializer:json" json:"media_urls"`
	ExternalID    *string    `gorm:"size:128;uniqueIndex:ux_messages_external_direction,priority:1" json:"external_id,omitempty"`
	FailureReason *string    `gorm:"type:text" json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
	ReadAt        *time.Time `json:"read_at,omitempty"`

	// DispatchLeaseUntil is set while one dispatcher owns a PENDING message.
	DispatchLeaseUntil *time.Time `json:"-"`
}

// NewOutboundMessage creates a PENDING message addressed to a contact.
func NewOutboundMessage(contactID uuid.UUID, senderUserID *uuid.UUID, channel Channel, body string, mediaURLs []string) Message {
	return Message{
		ID:           uuid.New(),
		ContactID:    contactID,
		SenderUserID: senderUserID,
		Channel:      channel,
		Direction:    DirectionOutbound,
		Status:       StatusPending,
		Body:         body,
		MediaURLs:    nonNil(mediaURLs),
		CreatedAt:    time.Now().UTC(),
	}
}

// NewInboundMessage creates a message received from a contact. Inbound
// messages start in SENT: the provider already carried them.
func NewInboundMessage(contactID uuid.UUID, channel Channel, body string, mediaURLs []string, externalID string) Message {
	now := time.Now().UTC()
	m := Message{
		ID:        uuid.New(),
		ContactID: contactID,
		Channel:   channel,
		Direction: DirectionInbound,
		Status:    StatusSent,
		Body:      body,
		MediaURLs: nonNil(mediaURLs),
		CreatedAt: now,
		SentAt:    &now,
	}
	if externalID != "" {
		m.ExternalID = &externalID
	}
	return m
}

// Transition moves the message to status to, stamping the matching timestamp.
// It returns ErrInvalidStatus for any change not in the transition table.
func (m *Message) Transition(to Status, at time.Time) error {
	if !CanTransition(m.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, m.Status, to)
	}
	m.Status = to
	switch to {
	case StatusSent:
		m.SentAt = &at
	case StatusDelivered:
		m.DeliveredAt = &at
	case StatusRead:
		m.ReadAt = &at
	}
	return nil
}

// MarkSent records a provider acceptance.
func (m *Message) MarkSent(externalID string, at time.Time) error {
	if err := m.Transition(StatusSent, at); err != nil {
		return err
	}
	if externalID != "" {
		m.ExternalID = &externalID
	}
	return nil
}

// MarkFailed records a terminal failure with a human-readable reason.
func (m *Message) MarkFailed(reason string) error {
	if err := m.Transition(StatusFailed, time.Now().UTC()); err != nil {
		return err
	}
	m.FailureReason = &reason
	return nil
}

// ExternalRef returns the provider id or "" when none was assigned.
func (m Message) ExternalRef() string {
	if m.ExternalID == nil {
		return ""
	}
	return *m.ExternalID
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
