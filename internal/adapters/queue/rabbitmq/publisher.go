package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"channel-gateway/internal/ports"

	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeName = "inbox.dispatch"
const queueName = "inbox.send"
const routingKey = "inbox.send"

// Publisher implements ports.JobPublisher using RabbitMQ.
type Publisher struct {
	conn    *amqp.Connection
	mu      sync.Mutex // guards channel
	channel *amqp.Channel
}

var _ ports.JobPublisher = (*Publisher)(nil)

// NewPublisher dials RabbitMQ, declares the exchange and queue, and binds them.
func NewPublisher(amqpURL string) (*Publisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declare(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Publisher{conn: conn, channel: ch}, nil
}

// PublishSendJob queues one send job. The message id doubles as the AMQP
// message id so a consumer can recognise redeliveries.
func (p *Publisher) PublishSendJob(ctx context.Context, job ports.SendJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal send job: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(
		ctx,
		exchangeName,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.MessageID.String(),
			Body:         body,
		},
	)
}

// Close cleanly shuts down the channel and connection.
func (p *Publisher) Close() {
	p.channel.Close()
	p.conn.Close()
}

// declare idempotently sets up the exchange, queue, and binding.
func declare(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(exchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(queueName, routingKey, exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}
