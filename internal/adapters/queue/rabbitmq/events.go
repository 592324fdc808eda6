package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"channel-gateway/internal/ports"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// EventsExchange is the topic exchange domain events are published to.
// The routing key is the event type.
const EventsExchange = "inbox.events"

const producer = "channel-gateway"

// Meta describes one emitted event.
type Meta struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Time          time.Time `json:"time"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer"`
}

// Envelope wraps every event payload.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

func newEnvelope(eventType, correlationID string, data any, now time.Time) Envelope {
	env := Envelope{
		Meta: Meta{
			ID:       uuid.NewString(),
			Type:     eventType,
			Time:     now.UTC(),
			Producer: producer,
		},
		Data: data,
	}
	if correlationID != "" {
		env.Meta.CorrelationID = &correlationID
	}
	return env
}

// EventPublisher implements ports.EventPublisher on a topic exchange.
type EventPublisher struct {
	conn    *amqp.Connection
	mu      sync.Mutex
	channel *amqp.Channel
}

var _ ports.EventPublisher = (*EventPublisher)(nil)

// NewEventPublisher dials RabbitMQ and declares the events exchange.
func NewEventPublisher(amqpURL string) (*EventPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}
	return &EventPublisher{conn: conn, channel: ch}, nil
}

func (p *EventPublisher) PublishEvent(ctx context.Context, eventType, correlationID string, data any) error {
	env := newEnvelope(eventType, correlationID, data, time.Now())
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.Meta.ID,
		Type:         eventType,
		Timestamp:    env.Meta.Time,
		Body:         body,
	}
	if env.Meta.CorrelationID != nil {
		pub.CorrelationId = *env.Meta.CorrelationID
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.PublishWithContext(ctx, EventsExchange, eventType, false, false, pub); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}
	return nil
}

// Close cleanly shuts down the channel and connection.
func (p *EventPublisher) Close() {
	p.channel.Close()
	p.conn.Close()
}
