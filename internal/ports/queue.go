package ports

import (
	"context"
	"errors"

	"channel-gateway/internal/domain"

	"github.com/google/uuid"
)

// SendJob asks a worker to dispatch one pending message.
type SendJob struct {
	MessageID uuid.UUID      `json:"message_id"`
	Channel   domain.Channel `json:"channel"`
	ContactID uuid.UUID      `json:"contact_id"`
}

// JobPublisher queues send jobs for the sender worker.
type JobPublisher interface {
	PublishSendJob(ctx context.Context, job SendJob) error
}

// ErrRetryJob is returned (wrapped) by a job handler when the job should be
// redelivered later, for instance because the store was unreachable.
var ErrRetryJob = errors.New("retry send job")

// JobConsumer consumes send jobs from the queue.
type JobConsumer interface {
	// Consume starts delivery of jobs; each is passed to the handler.
	// Blocks until ctx is cancelled or a fatal error occurs.
	Consume(ctx context.Context, handler func(ctx context.Context, job SendJob) error) error
}

// Domain event types.
const (
	EventMessageInbound = "message.inbound.v1"
	EventMessageStatus  = "message.status.v1"
	EventContactMerged  = "contact.merged.v1"
)

// EventPublisher emits domain events for downstream consumers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, correlationID string, data any) error
}
