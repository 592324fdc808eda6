package transport

import (
	"errors"
	"log/slog"

	"channel-gateway/internal/app"
	"channel-gateway/internal/domain"

	"github.com/gofiber/fiber/v2"
)

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	var (
		cfgErr   *domain.ConfigurationError
		vErr     *domain.ValidationError
		fiberErr *fiber.Error
	)
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.As(err, &cfgErr):
		return fiber.StatusServiceUnavailable
	case app.IsNotFound(err):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrInvalidStatus), errors.Is(err, domain.ErrContactMismatch):
		return fiber.StatusConflict
	case errors.As(err, &vErr), errors.Is(err, domain.ErrUnsupportedChannel):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

// writeError renders err as {"error": ...}. Internal failures are logged
// and hidden from the client.
func writeError(c *fiber.Ctx, log *slog.Logger, err error, extra fiber.Map) error {
	code := statusFor(err)
	body := fiber.Map{"error": err.Error()}
	if code == fiber.StatusInternalServerError {
		log.Error("request failed", "method", c.Method(), "path", c.Path(), "request_id", c.Locals("request_id"), "err", err)
		body["error"] = "internal server error"
	}
	for k, v := range extra {
		body[k] = v
	}
	return c.Status(code).JSON(body)
}

// ErrorHandler is the fiber fallback for errors returned by handlers and
// middleware.
func ErrorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		return writeError(c, log, err, nil)
	}
}
