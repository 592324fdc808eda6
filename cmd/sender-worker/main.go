package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"channel-gateway/internal/adapters/queue/rabbitmq"
	"channel-gateway/internal/app"
	"channel-gateway/internal/bootstrap"
	"channel-gateway/internal/config"
	"channel-gateway/internal/domain"
	"channel-gateway/internal/ports"
)

func main() {
	log := bootstrap.Logger("sender-worker")
	if err := run(log); err != nil {
		log.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	conf, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if conf.AMQPURL == "" {
		return errors.New("AMQP_URL is required")
	}

	repo, closeRepo, err := bootstrap.OpenStore(conf, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	events, closeEvents, err := bootstrap.OpenEvents(conf, log)
	if err != nil {
		return err
	}
	defer closeEvents()

	consumer, err := rabbitmq.NewConsumer(conf.AMQPURL, log)
	if err != nil {
		return fmt.Errorf("connect rabbitmq consumer: %w", err)
	}
	defer consumer.Close()

	svc := bootstrap.NewServices(conf, repo, events, log)
	svc.Registry.LogConfigured()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("sender-worker started")

	err = consumer.Consume(ctx, func(ctx context.Context, job ports.SendJob) error {
		return handle(ctx, svc.Dispatcher, job)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("consumer: %w", err)
	}

	log.Info("shutting down sender-worker")
	return nil
}

// handle sends one job. Caller mistakes and configuration gaps are final;
// anything else is most likely the store and the job is requeued.
func handle(ctx context.Context, d *app.Dispatcher, job ports.SendJob) error {
	_, err := d.SendMessage(ctx, job.MessageID, job.Channel, job.ContactID)
	if err == nil {
		return nil
	}
	var cfgErr *domain.ConfigurationError
	var valErr *domain.ValidationError
	switch {
	case app.IsNotFound(err),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrContactMismatch),
		errors.Is(err, domain.ErrUnsupportedChannel),
		errors.As(err, &cfgErr),
		errors.As(err, &valErr):
		return err
	}
	return fmt.Errorf("%w: %v", ports.ErrRetryJob, err)
}
