package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"channel-gateway/internal/adapters/queue/rabbitmq"
	"channel-gateway/internal/bootstrap"
	"channel-gateway/internal/config"
	"channel-gateway/internal/middleware"
	"channel-gateway/internal/ports"
	"channel-gateway/internal/transport"
)

func main() {
	log := bootstrap.Logger("gateway-api")
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

	// Async sends are optional; without a broker the API only sends inline.
	var jobs ports.JobPublisher
	if conf.AMQPURL != "" {
		pub, err := rabbitmq.NewPublisher(conf.AMQPURL)
		if err != nil {
			log.Warn("rabbitmq unavailable, async send disabled", "err", err)
		} else {
			defer pub.Close()
			jobs = pub
		}
	}

	svc := bootstrap.NewServices(conf, repo, events, log)
	svc.Registry.LogConfigured()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fiberApp := transport.NewApp(transport.ServerConfig{
		Name:         "gateway-api",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}, log)

	api := fiberApp.Group("/api",
		middleware.CORS(conf.HTTP.CORSOrigins),
		middleware.NewRateLimiter(ctx, conf.HTTP.RateLimitMax, conf.HTTP.RateLimitWindow).Middleware(),
	)
	transport.NewHandler(svc.Dispatcher, svc.Contacts, jobs, log).Register(api)

	hooks := fiberApp.Group("/webhooks", middleware.WebhookLimiter(600, time.Minute))
	transport.NewWebhookHandler(svc.Inbound, bootstrap.Webhooks(conf), log).Register(hooks)

	return transport.Serve(ctx, fiberApp, conf.HTTPAddr, 10*time.Second, log)
}
