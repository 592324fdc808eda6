package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"channel-gateway/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// ServerConfig tunes the fiber app for one binary.
type ServerConfig struct {
	Name         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BodyLimit    int
}

// NewApp builds a fiber app with the middleware every binary shares:
// panic recovery, access log, request id and security headers. /health is
// mounted before anything that could reject it.
func NewApp(cfg ServerConfig, log *slog.Logger) *fiber.App {
	if cfg.BodyLimit == 0 {
		cfg.BodyLimit = 1 << 20
	}
	app := fiber.New(fiber.Config{
		AppName:               cfg.Name,
		DisableStartupMessage: true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		IdleTimeout:           120 * time.Second,
		ServerHeader:          "",
		BodyLimit:             cfg.BodyLimit,
		ErrorHandler:          ErrorHandler(log),
	})

	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} - ${method} ${path} ${latency} ${locals:request_id}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())

	app.Get("/health", Health)
	return app
}

// Serve runs app on addr until ctx is cancelled, then shuts down within
// grace.
func Serve(ctx context.Context, app *fiber.App, addr string, grace time.Duration, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("http server started", "app", app.Config().AppName, "addr", addr)
		if err := app.Listen(addr); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("http server stopped gracefully", "app", app.Config().AppName)
	return nil
}
