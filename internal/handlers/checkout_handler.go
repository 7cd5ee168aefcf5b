package handlers

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"farmmarket/internal/logging"
	"farmmarket/internal/middleware"
	"farmmarket/internal/models"
	"farmmarket/internal/services"
)

// CheckoutHandler turns carts into orders.
type CheckoutHandler struct {
	service  *services.CheckoutService
	validate *validator.Validate
	logger   *zap.Logger
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(service *services.CheckoutService, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service:  service,
		validate: validator.New(),
		logger:   logging.OrNop(logger).Named("checkout_handler"),
	}
}

// RegisterRoutes registers the checkout routes. router must run OptionalAuth so that guests
// are identified by their session id.
func (h *CheckoutHandler) RegisterRoutes(router fiber.Router) {
	checkoutRoutes := router.Group("/checkout")
	checkoutRoutes.Post("/", h.HandleCheckout)
	checkoutRoutes.Post("/quote", h.HandleQuote)
}

// CheckoutRequest is the cart submitted by the client. Only product ids and quantities are
// read from it; prices always come from the catalogue.
type CheckoutRequest struct {
	Items           []services.CheckoutItem `json:"items" validate:"required,min=1,dive"`
	CustomerInfo    models.CustomerInfo     `json:"customer_info"`
	ShippingAddress models.ShippingAddress  `json:"shipping_address"`
	PaymentMethod   models.PaymentMethod    `json:"payment_method" validate:"required,oneof=cod online"`
	DiscountID      string                  `json:"discount_id"`
	DiscountCode    string                  `json:"discount_code"`
}

func (r CheckoutRequest) discount() string {
	if r.DiscountID != "" {
		return r.DiscountID
	}
	return r.DiscountCode
}

// HandleCheckout places an order.
func (h *CheckoutHandler) HandleCheckout(c *fiber.Ctx) error {
	var req CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	if valid, err := validateStruct(c, h.validate, req); !valid {
		return err
	}

	result, err := h.service.Checkout(c.UserContext(), services.CheckoutRequest{
		UserID:          middleware.UserID(c),
		SessionID:       middleware.SessionID(c),
		Items:           req.Items,
		Customer:        req.CustomerInfo,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		DiscountCode:    req.discount(),
	})
	if err != nil {
		return errorResponse(c, h.logger, "Checkout failed", err)
	}

	body := fiber.Map{
		"order_id": result.Order.ID,
		"status":   result.Order.Status,
		"order":    result.Order,
	}
	if result.PaymentDirective != nil {
		body["payment_directive"] = result.PaymentDirective
	}
	return c.Status(fiber.StatusCreated).JSON(body)
}

// HandleQuote prices a cart, discount included, without reserving stock.
func (h *CheckoutHandler) HandleQuote(c *fiber.Ctx) error {
	var req struct {
		Items        []services.CheckoutItem `json:"items" validate:"required,min=1,dive"`
		DiscountID   string                  `json:"discount_id"`
		DiscountCode string                  `json:"discount_code"`
	}
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	if valid, err := validateStruct(c, h.validate, req); !valid {
		return err
	}
	code := req.DiscountID
	if code == "" {
		code = req.DiscountCode
	}

	pricing, discount, err := h.service.Quote(c.UserContext(), middleware.UserID(c), middleware.SessionID(c), req.Items, code)
	if err != nil {
		return errorResponse(c, h.logger, "Could not price cart", err)
	}
	return c.JSON(fiber.Map{"pricing": pricing, "discount": discount})
}
