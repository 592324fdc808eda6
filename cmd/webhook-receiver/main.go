package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"channel-gateway/internal/bootstrap"
	"channel-gateway/internal/config"
	"channel-gateway/internal/middleware"
	"channel-gateway/internal/transport"
)

func main() {
	log := bootstrap.Logger("webhook-receiver")
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

	svc := bootstrap.NewServices(conf, repo, events, log)

	fiberApp := transport.NewApp(transport.ServerConfig{
		Name:         "webhook-receiver",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		BodyLimit:    512 * 1024,
	}, log)

	hooks := fiberApp.Group("/webhooks", middleware.WebhookLimiter(600, time.Minute))
	transport.NewWebhookHandler(svc.Inbound, bootstrap.Webhooks(conf), log).Register(hooks)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return transport.Serve(ctx, fiberApp, conf.WebhookAddr, 10*time.Second, log)
}
