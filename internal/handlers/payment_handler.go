package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"farmmarket/internal/logging"
	"farmmarket/internal/services"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Payment-Signature"

// Payment outcomes reported by the payment collaborator.
const (
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"
)

// PaymentHandler receives payment outcomes from the external payment collaborator. It is the
// only way an online order leaves pending for confirmed.
type PaymentHandler struct {
	orders   *services.OrderService
	secret   []byte
	validate *validator.Validate
	logger   *zap.Logger
}

// NewPaymentHandler creates a new PaymentHandler. Requests must be signed with secret.
func NewPaymentHandler(orders *services.OrderService, secret string, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		orders:   orders,
		secret:   []byte(secret),
		validate: validator.New(),
		logger:   logging.OrNop(logger).Named("payment_webhook"),
	}
}

// RegisterRoutes registers the webhook route. It must not sit behind user authentication.
func (h *PaymentHandler) RegisterRoutes(router fiber.Router) {
	router.Post("/payments/webhook", h.HandleWebhook)
}

// PaymentWebhookRequest is the payment outcome for one order.
type PaymentWebhookRequest struct {
	OrderID   string `json:"order_id" validate:"required"`
	Status    string `json:"status" validate:"required,oneof=succeeded failed"`
	Reference string `json:"reference" validate:"max=64"`
}

// Sign returns the signature the webhook expects for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *PaymentHandler) verify(body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(h.secret) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// HandleWebhook applies a payment outcome. Redelivered outcomes are acknowledged without
// changing the order again.
func (h *PaymentHandler) HandleWebhook(c *fiber.Ctx) error {
	if !h.verify(c.Body(), c.Get(SignatureHeader)) {
		h.logger.Warn("rejected unsigned payment webhook", zap.String("ip", c.IP()))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"message": "Invalid payment signature",
		})
	}

	var req PaymentWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	if valid, err := validateStruct(c, h.validate, req); !valid {
		return err
	}

	ctx := c.UserContext()
	var err error
	switch req.Status {
	case PaymentSucceeded:
		_, err = h.orders.ConfirmPayment(ctx, req.OrderID, req.Reference)
	case PaymentFailed:
		_, err = h.orders.FailPayment(ctx, req.OrderID, req.Reference)
	}
	if err != nil {
		return errorResponse(c, h.logger, "Payment update failed", err)
	}

	h.logger.Info("payment outcome applied",
		zap.String("order_id", req.OrderID),
		zap.String("status", req.Status),
		zap.String("reference", req.Reference))
	return ok(c, nil)
}
