package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// CORS allows the configured browser origins to call the API. Provider
// webhooks are server-to-server and never need it.
func CORS(origins string) fiber.Handler {
	return cors.New(cors.Config{
		// Never "*" together with credentials.
		AllowOrigins:     origins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization," + RequestIDHeader,
		AllowCredentials: false,
		ExposeHeaders:    "Content-Length," + RequestIDHeader,
		MaxAge:           3600,
	})
}
