package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"channel-gateway/internal/adapters/provider/twilio"
	"channel-gateway/internal/bootstrap"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// mockResource is the subset of a Twilio message resource the gateway reads.
type mockResource struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

func main() {
	log := bootstrap.Logger("mock-provider")

	addr := getenv("HTTP_ADDR", ":9090")
	statusHook := getenv("STATUS_CALLBACK_URL", "http://localhost:8081/webhooks/twilio/status")
	authToken := os.Getenv("TWILIO_AUTH_TOKEN")

	fiberApp := fiber.New(fiber.Config{AppName: "mock-provider", DisableStartupMessage: true})

	// Point TWILIO_BASE_URL at this server to exercise the real Twilio senders.
	fiberApp.Post("/2010-04-01/Accounts/:sid/Messages.json", func(c *fiber.Ctx) error {
		to, from := c.FormValue("To"), c.FormValue("From")
		if to == "" || from == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"code": 21604, "message": "A 'To' and 'From' phone number is required.", "status": 400,
			})
		}

		sid := "SM" + strings.ReplaceAll(uuid.NewString(), "-", "")
		log.Info("mock provider accepted message", "sid", sid, "to", to, "account", c.Params("sid"))

		hook := c.FormValue("StatusCallback")
		if hook == "" {
			hook = statusHook
		}
		go simulateCallbacks(hook, authToken, sid, to, from, log)

		return c.Status(fiber.StatusCreated).JSON(mockResource{SID: sid, Status: "queued"})
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("mock-provider listening", "addr", addr)
		if err := fiberApp.Listen(addr); err != nil {
			log.Error("fiber listen", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down mock-provider")
	_ = fiberApp.Shutdown()
}

// simulateCallbacks reports "sent" and then "delivered" for sid, signing
// each callback when an auth token is configured.
func simulateCallbacks(hookURL, authToken, sid, to, from string, log *slog.Logger) {
	for _, status := range []string{"sent", "delivered"} {
		time.Sleep(500 * time.Millisecond)

		params := url.Values{}
		params.Set("MessageSid", sid)
		params.Set("MessageStatus", status)
		params.Set("To", to)
		params.Set("From", from)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, hookURL, strings.NewReader(params.Encode()))
		if err != nil {
			cancel()
			log.Error("create status callback", "err", err)
			return
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if authToken != "" {
			req.Header.Set(twilio.SignatureHeader, twilio.Signature(authToken, hookURL, params))
		}

		resp, err := http.DefaultClient.Do(req)
		cancel()
		if err != nil {
			log.Error("status callback failed", "sid", sid, "err", err)
			return
		}
		resp.Body.Close()
		log.Info("status callback sent", "sid", sid, "status", status, "http_status", resp.StatusCode)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
