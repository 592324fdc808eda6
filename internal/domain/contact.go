package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContactStatus is the account state of a contact.
type ContactStatus string

const (
	ContactActive   ContactStatus = "ACTIVE"
	ContactInactive ContactStatus = "INACTIVE"
	ContactArchived ContactStatus = "ARCHIVED"
)

// Contact is one person known across channels.
//
// Address is the normalized key written by identity resolution. It carries
// the store's unique constraint; contacts entered by hand leave it empty and
// may therefore duplicate each other until merged.
type Contact struct {
	ID              uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	FirstName       string        `gorm:"size:100" json:"first_name"`
	LastName        string        `gorm:"size:100" json:"last_name"`
	Email           *string       `gorm:"size:320;index" json:"email,omitempty"`
	Phone           *string       `gorm:"size:32;index" json:"phone,omitempty"`
	Handle          *string       `gorm:"size:100;index" json:"handle,omitempty"`
	Address         *string       `gorm:"size:320;uniqueIndex" json:"-"`
	Tags            []string      `gorm:"type:text;serializer:json" json:"tags"`
	Status          ContactStatus `gorm:"size:16;not null" json:"status"`
	LastContactedAt *time.Time    `json:"last_contacted_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// NewContact creates an ACTIVE contact with a fresh id.
func NewContact(firstName, lastName string) Contact {
	return Contact{
		ID:        uuid.New(),
		FirstName: firstName,
		LastName:  lastName,
		Tags:      []string{},
		Status:    ContactActive,
		CreatedAt: time.Now().UTC(),
	}
}

// FullName joins first and last name for display.
func (c Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// NameKey is the name duplicate detection compares: first and last name
// joined by one space, kept even when the last name is empty.
func (c Contact) NameKey() string {
	return c.FirstName + " " + c.LastName
}

// Destination returns the contact's address for a channel, or "" if it has none.
func (c Contact) Destination(ch Channel) string {
	var p *string
	switch ch {
	case ChannelSMS, ChannelWhatsApp, ChannelVoice:
		p = c.Phone
	case ChannelEmail:
		p = c.Email
	case ChannelTwitter, ChannelFacebook:
		p = c.Handle
	}
	if p == nil {
		return ""
	}
	return *p
}

// AddTag adds t unless already present.
func (c *Contact) AddTag(t string) {
	for _, existing := range c.Tags {
		if existing == t {
			return
		}
	}
	c.Tags = append(c.Tags, t)
}

// Note is a free-text annotation on a contact.
type Note struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ContactID uuid.UUID  `gorm:"type:uuid;not null;index" json:"contact_id"`
	UserID    *uuid.UUID `gorm:"type:uuid" json:"user_id,omitempty"`
	Content   string     `gorm:"type:text;not null" json:"content"`
	IsPrivate bool       `json:"is_private"`
	CreatedAt time.Time  `json:"created_at"`
}

// ScheduledStatus is the state of a deferred send.
type ScheduledStatus string

const (
	ScheduledPending   ScheduledStatus = "SCHEDULED"
	ScheduledSent      ScheduledStatus = "SENT"
	ScheduledCancelled ScheduledStatus = "CANCELLED"
	ScheduledFailed    ScheduledStatus = "FAILED"
)

// ScheduledMessage is a send request held until its time comes.
type ScheduledMessage struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ContactID    uuid.UUID       `gorm:"type:uuid;not null;index" json:"contact_id"`
	Channel      Channel         `gorm:"size:16;not null" json:"channel"`
	Body         string          `gorm:"type:text;not null" json:"body"`
	Subject      string          `gorm:"size:500" json:"subject,omitempty"`
	MediaURLs    []string        `gorm:"type:text;serializer:json" json:"media_urls"`
	ScheduledFor time.Time       `gorm:"index" json:"scheduled_for"`
	Status       ScheduledStatus `gorm:"size:16;not null" json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}
