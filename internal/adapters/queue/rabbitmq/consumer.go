package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"channel-gateway/internal/ports"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer implements ports.JobConsumer using RabbitMQ.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	log     *slog.Logger
}

var _ ports.JobConsumer = (*Consumer)(nil)

// NewConsumer dials RabbitMQ, declares topology, and returns a Consumer.
func NewConsumer(amqpURL string, log *slog.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	// One job at a time per worker: a send is acked only after its
	// outcome is persisted.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	if err := declare(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, channel: ch, log: log}, nil
}

// ErrMalformedJob marks a delivery that can never be processed.
var ErrMalformedJob = errors.New("malformed send job")

func decodeJob(body []byte) (ports.SendJob, error) {
	var job ports.SendJob
	if err := json.Unmarshal(body, &job); err != nil {
		return ports.SendJob{}, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if job.MessageID == uuid.Nil || job.ContactID == uuid.Nil || job.Channel == "" {
		return ports.SendJob{}, fmt.Errorf("%w: message_id, contact_id and channel are required", ErrMalformedJob)
	}
	return job, nil
}

// Consume registers a consumer on the queue and calls handler for each job.
// A job is acknowledged when the handler returns nil or a permanent error,
// and requeued when the handler reports ports.ErrRetryJob.
// It blocks until ctx is cancelled.
func (c *Consumer) Consume(ctx context.Context, handler func(ctx context.Context, job ports.SendJob) error) error {
	deliveries, err := c.channel.Consume(
		queueName,
		"",    // auto-generated consumer tag
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries channel closed")
			}

			job, err := decodeJob(d.Body)
			if err != nil {
				c.log.Error("decode send job", "err", err)
				d.Nack(false, false) // dead-letter; don't requeue malformed payloads
				continue
			}

			if err := handler(ctx, job); err != nil {
				if errors.Is(err, ports.ErrRetryJob) {
					c.log.Warn("send job requeued", "msg_id", job.MessageID, "err", err)
					d.Nack(false, true)
					continue
				}
				c.log.Error("send job failed", "msg_id", job.MessageID, "err", err)
			}

			d.Ack(false)
		}
	}
}

// Close cleanly shuts down the channel and connection.
func (c *Consumer) Close() {
	c.channel.Close()
	c.conn.Close()
}
