package handlers

import (
	"errors"
	"log/slog"

	"github.com/budgetly/backend/internal/dto"
	"github.com/budgetly/backend/internal/paddle"
	"github.com/budgetly/backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

type WebhookHandler struct {
	subscriptionService *services.SubscriptionService
	verifier            *paddle.Verifier
}

func NewWebhookHandler(subscriptionService *services.SubscriptionService, verifier *paddle.Verifier) *WebhookHandler {
	return &WebhookHandler{
		subscriptionService: subscriptionService,
		verifier:            verifier,
	}
}

// HandlePaddle implements the webhook endpoint contract: verify the HMAC
// signature over the raw body, then reconcile the event. The body is
// parsed before verification but never acted on until the signature
// checks out.
func (h *WebhookHandler) HandlePaddle(c *fiber.Ctx) error {
	if c.Method() == fiber.MethodOptions {
		return c.SendString("ok")
	}
	if c.Method() != fiber.MethodPost {
		return c.Status(fiber.StatusMethodNotAllowed).JSON(dto.ErrorResponse{
			Error: "Method not allowed",
		})
	}

	if !h.verifier.Configured() {
		slog.Error("no webhook secrets configured, rejecting delivery")
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: "Server misconfigured",
		})
	}

	body := c.Body()
	event, err := paddle.ParseEvent(body)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "Invalid JSON",
		})
	}

	sigHeader := c.Get("paddle-signature")
	if sigHeader == "" {
		slog.Warn("webhook delivery without signature header")
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: "Unauthorized",
		})
	}
	if err := h.verifier.Verify(body, sigHeader); err != nil {
		if errors.Is(err, paddle.ErrNoSecrets) {
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
				Error: "Server misconfigured",
			})
		}
		slog.Warn("webhook signature verification failed", "error", err)
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: "Invalid signature",
		})
	}

	if err := h.subscriptionService.HandleEvent(c.Context(), event); err != nil {
		slog.Error("webhook processing failed",
			"event_type", string(event.Type),
			"subscription_id", event.SubscriptionID(),
			"error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error:   "Internal server error",
			Details: err.Error(),
		})
	}

	slog.Info("webhook processed", "event_type", string(event.Type))
	return c.JSON(dto.SuccessResponse{Success: true})
}
