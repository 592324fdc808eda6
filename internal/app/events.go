package app

import (
	"context"
	"log/slog"
	"time"

	"channel-gateway/internal/domain"
	"channel-gateway/internal/ports"

	"github.com/google/uuid"
)

// StatusChanged is the payload of message.status.v1.
type StatusChanged struct {
	MessageID     uuid.UUID      `json:"message_id"`
	ContactID     uuid.UUID      `json:"contact_id"`
	Channel       domain.Channel `json:"channel"`
	Status        domain.Status  `json:"status"`
	ExternalID    string         `json:"external_id,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
	At            time.Time      `json:"at"`
}

// MessageReceived is the payload of message.inbound.v1.
type MessageReceived struct {
	MessageID  uuid.UUID      `json:"message_id"`
	ContactID  uuid.UUID      `json:"contact_id"`
	Channel    domain.Channel `json:"channel"`
	ExternalID string         `json:"external_id"`
	Provider   string         `json:"provider"`
}

// ContactMerged is the payload of contact.merged.v1.
type ContactMerged struct {
	PrimaryID   uuid.UUID         `json:"primary_id"`
	DuplicateID uuid.UUID         `json:"duplicate_id"`
	Moved       ports.MergeCounts `json:"moved"`
}

func statusChanged(m domain.Message) StatusChanged {
	ev := StatusChanged{
		MessageID:  m.ID,
		ContactID:  m.ContactID,
		Channel:    m.Channel,
		Status:     m.Status,
		ExternalID: m.ExternalRef(),
		At:         time.Now().UTC(),
	}
	if m.FailureReason != nil {
		ev.FailureReason = *m.FailureReason
	}
	return ev
}

// emit publishes best effort: a failure is logged and never changes the
// outcome of the operation that produced the event.
func emit(ctx context.Context, pub ports.EventPublisher, log *slog.Logger, eventType, correlationID string, data any) {
	if pub == nil {
		return
	}
	if err := pub.PublishEvent(ctx, eventType, correlationID, data); err != nil {
		log.Warn("publish event failed", "type", eventType, "correlation_id", correlationID, "err", err)
	}
}
