package routes

import (
	"time"

	"github.com/budgetly/backend/internal/handlers"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

func Setup(
	app *fiber.App,
	healthHandler *handlers.HealthHandler,
	webhookHandler *handlers.WebhookHandler,
) {
	// Webhook route sits outside the rate limiter: Paddle bursts on
	// redelivery and throttling it would turn retries into more retries.
	// Method filtering happens inside the handler so non-POST gets the
	// contract's 405 body.
	app.All("/paddle-webhook", webhookHandler.HandlePaddle)

	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	api.Get("/health", healthHandler.Check)
}
