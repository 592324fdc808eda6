// Package bootstrap wires the shared infrastructure every binary starts
// from: logger, store, event publisher and services.
package bootstrap

import (
	"fmt"
	"log/slog"
	"os"

	"channel-gateway/internal/adapters/db/memory"
	"channel-gateway/internal/adapters/db/postgres"
	"channel-gateway/internal/adapters/queue/rabbitmq"
	"channel-gateway/internal/app"
	"channel-gateway/internal/config"
	"channel-gateway/internal/ports"
	"channel-gateway/internal/registry"
	"channel-gateway/internal/transport"
)

// Logger returns the JSON logger long-running binaries write to stdout.
func Logger(service string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})).
		With("service", service)
}

// OpenStore connects the configured repository. The returned func releases it.
func OpenStore(cfg config.Config, log *slog.Logger) (ports.Repository, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn("using in-memory store, data is lost on exit")
		return memory.New(), func() {}, nil
	case config.StorePostgres:
		repo, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return repo, func() {
			if err := repo.Close(); err != nil {
				log.Error("close postgres", "err", err)
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}

// OpenEvents connects the domain event publisher. Events are best effort:
// without a broker URL, or in development when the broker is down, it
// returns a nil publisher and events are skipped.
func OpenEvents(cfg config.Config, log *slog.Logger) (ports.EventPublisher, func(), error) {
	if cfg.AMQPURL == "" {
		log.Info("no AMQP_URL, domain events disabled")
		return nil, func() {}, nil
	}
	pub, err := rabbitmq.NewEventPublisher(cfg.AMQPURL)
	if err != nil {
		if cfg.Env == config.EnvDevelopment {
			log.Warn("rabbitmq unavailable, domain events disabled", "err", err)
			return nil, func() {}, nil
		}
		return nil, nil, fmt.Errorf("connect event publisher: %w", err)
	}
	return pub, pub.Close, nil
}

// Services are the application services built over one store.
type Services struct {
	Registry   *registry.Registry
	Dispatcher *app.Dispatcher
	Inbound    *app.InboundService
	Contacts   *app.ContactService
}

// NewServices builds the sender registry and the application services.
func NewServices(cfg config.Config, repo ports.Repository, events ports.EventPublisher, log *slog.Logger) Services {
	reg := registry.New(cfg.Providers, log)
	return Services{
		Registry:   reg,
		Dispatcher: app.NewDispatcher(repo, reg, events, app.RetryPolicyFrom(cfg.Dispatch), log),
		Inbound:    app.NewInboundService(repo, app.NewResolver(repo, log), events, log),
		Contacts:   app.NewContactService(repo, events, log),
	}
}

// Webhooks maps the loaded configuration onto the webhook routes' settings.
func Webhooks(cfg config.Config) transport.WebhookConfig {
	return transport.WebhookConfig{
		VerifySignatures: cfg.Webhook.VerifySignatures,
		PublicBaseURL:    cfg.Webhook.PublicBaseURL,
		TwilioAuthToken:  cfg.Providers.Twilio.AuthToken,
		MetaAppSecret:    cfg.Providers.Meta.AppSecret,
		MetaVerifyToken:  cfg.Providers.Meta.VerifyToken,
	}
}
