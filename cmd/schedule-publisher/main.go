package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"channel-gateway/internal/adapters/queue/rabbitmq"
	"channel-gateway/internal/app"
	"channel-gateway/internal/bootstrap"
	"channel-gateway/internal/config"
)

const (
	pollInterval = 5 * time.Second
	batchSize    = 100
)

func main() {
	log := bootstrap.Logger("schedule-publisher")
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

	jobs, err := rabbitmq.NewPublisher(conf.AMQPURL)
	if err != nil {
		return fmt.Errorf("connect rabbitmq publisher: %w", err)
	}
	defer jobs.Close()

	svc := bootstrap.NewServices(conf, repo, nil, log)
	publisher := app.NewSchedulePublisher(repo, svc.Dispatcher, jobs, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	log.Info("schedule-publisher started", "interval", pollInterval.String())

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down schedule-publisher")
			return nil

		case <-ticker.C:
			n, err := publisher.PublishDue(ctx, batchSize)
			if err != nil {
				log.Error("publish due scheduled messages", "err", err)
			}
			if n > 0 {
				log.Info("queued scheduled messages", "count", n)
			}
		}
	}
}
