package handlers

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"farmmarket/internal/apperrors"
	"farmmarket/internal/logging"
	"farmmarket/internal/middleware"
	"farmmarket/internal/models"
	"farmmarket/internal/services"
)

// DiscountHandler serves discount previews and discount administration.
type DiscountHandler struct {
	discounts *services.DiscountService
	checkout  *services.CheckoutService
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewDiscountHandler creates a new DiscountHandler.
func NewDiscountHandler(discounts *services.DiscountService, checkout *services.CheckoutService, logger *zap.Logger) *DiscountHandler {
	return &DiscountHandler{
		discounts: discounts,
		checkout:  checkout,
		validate:  validator.New(),
		logger:    logging.OrNop(logger).Named("discount_handler"),
	}
}

// RegisterRoutes registers the shopper-facing discount routes.
func (h *DiscountHandler) RegisterRoutes(router fiber.Router) {
	router.Post("/discounts/validate", h.HandleValidate)
}

// RegisterAdminRoutes registers discount management routes.
func (h *DiscountHandler) RegisterAdminRoutes(router fiber.Router) {
	discountRoutes := router.Group("/discounts")
	discountRoutes.Get("/", h.HandleList)
	discountRoutes.Get("/:id", h.HandleGet)
	discountRoutes.Post("/", h.HandleCreate)
	discountRoutes.Put("/:id", h.HandleUpdate)
	discountRoutes.Patch("/:id/usage", h.HandleCorrectUsage)
}

// ValidateDiscountRequest asks whether a discount applies. When items are sent the cart is
// priced from stored product prices and cart_total is ignored.
type ValidateDiscountRequest struct {
	ID        string                  `json:"id"`
	Code      string                  `json:"code"`
	CartTotal decimal.Decimal         `json:"cart_total"`
	Items     []services.CheckoutItem `json:"items" validate:"omitempty,dive"`
}

// HandleValidate reports whether a discount may be used. It never consumes a use.
func (h *DiscountHandler) HandleValidate(c *fiber.Ctx) error {
	var req ValidateDiscountRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	if valid, err := validateStruct(c, h.validate, req); !valid {
		return err
	}
	codeOrID := req.ID
	if codeOrID == "" {
		codeOrID = req.Code
	}
	if codeOrID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Validation failed",
			"error":   "id or code is required",
			"kind":    apperrors.KindValidation,
		})
	}

	userID, sessionID := middleware.UserID(c), middleware.SessionID(c)
	if len(req.Items) > 0 {
		pricing, discount, err := h.checkout.Quote(c.UserContext(), userID, sessionID, req.Items, codeOrID)
		if err != nil {
			return h.rejected(c, err)
		}
		return c.JSON(fiber.Map{"valid": true, "discount": discount, "pricing": pricing})
	}

	if req.CartTotal.IsNegative() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Validation failed",
			"error":   "cart_total must not be negative",
			"kind":    apperrors.KindValidation,
		})
	}
	discount, err := h.discounts.Validate(c.UserContext(), codeOrID, req.CartTotal, services.RedemptionKey(userID, sessionID))
	if err != nil {
		return h.rejected(c, err)
	}
	return c.JSON(fiber.Map{
		"valid":    true,
		"discount": discount,
		"amount":   services.DiscountAmount(discount.Type, discount.Value, req.CartTotal, decimal.Zero),
	})
}

// rejected answers a refused discount with 200 {valid: false}; anything else is a real error.
func (h *DiscountHandler) rejected(c *fiber.Ctx, err error) error {
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Kind != apperrors.KindDiscountRejected {
		return errorResponse(c, h.logger, "Could not validate discount", err)
	}
	return c.JSON(fiber.Map{
		"valid":  false,
		"error":  appErr.Message,
		"reason": appErr.Reason,
	})
}

// DiscountRequest is the administrator's view of a discount definition.
type DiscountRequest struct {
	Code        string                `json:"code" validate:"required,max=64"`
	Description string                `json:"description" validate:"omitempty,max=255"`
	Type        models.DiscountType   `json:"type" validate:"required,oneof=percentage fixed free_shipping"`
	Value       decimal.Decimal       `json:"value"`
	MinPurchase decimal.Decimal       `json:"min_purchase"`
	UsageLimit  int                   `json:"usage_limit" validate:"gte=0"`
	PerUser     bool                  `json:"per_user"`
	StartDate   time.Time             `json:"start_date"`
	EndDate     time.Time             `json:"end_date"`
	Status      models.DiscountStatus `json:"status" validate:"omitempty,oneof=active scheduled expired disabled"`
}

func (r DiscountRequest) toModel() models.Discount {
	return models.Discount{
		Code:        r.Code,
		Description: r.Description,
		Type:        r.Type,
		Value:       r.Value,
		MinPurchase: r.MinPurchase,
		UsageLimit:  r.UsageLimit,
		PerUser:     r.PerUser,
		StartDate:   r.StartDate,
		EndDate:     r.EndDate,
		Status:      r.Status,
	}
}

func (h *DiscountHandler) HandleList(c *fiber.Ctx) error {
	discounts, err := h.discounts.List(c.UserContext())
	if err != nil {
		return errorResponse(c, h.logger, "Could not retrieve discounts", err)
	}
	return c.JSON(discounts)
}

func (h *DiscountHandler) HandleGet(c *fiber.Ctx) error {
	discount, err := h.discounts.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return errorResponse(c, h.logger, "Could not retrieve discount", err)
	}
	return c.JSON(discount)
}

// HandleCreate defines a new discount. Usage always starts at zero.
func (h *DiscountHandler) HandleCreate(c *fiber.Ctx) error {
	var req DiscountRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	if valid, err := validateStruct(c, h.validate, req); !valid {
		return err
	}

	discount := req.toModel()
	if err := h.discounts.Create(c.UserContext(), &discount); err != nil {
		return errorResponse(c, h.logger, "Could not create discount", err)
	}
	return c.Status(fiber.StatusCreated).JSON(discount)
}

// HandleUpdate replaces a discount definition. The usage counter is preserved.
func (h *DiscountHandler) HandleUpdate(c *fiber.Ctx) error {
	var req DiscountRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	if valid, err := validateStruct(c, h.validate, req); !valid {
		return err
	}

	discount := req.toModel()
	discount.ID = c.Params("id")
	if err := h.discounts.Update(c.UserContext(), &discount); err != nil {
		return errorResponse(c, h.logger, "Could not update discount", err)
	}
	return c.JSON(discount)
}

// HandleCorrectUsage lets an administrator correct the usage counter.
func (h *DiscountHandler) HandleCorrectUsage(c *fiber.Ctx) error {
	var req struct {
		Used *int `json:"used" validate:"required,gte=0"`
	}
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	if valid, err := validateStruct(c, h.validate, req); !valid {
		return err
	}

	discount, err := h.discounts.CorrectUsage(c.UserContext(), c.Params("id"), *req.Used)
	if err != nil {
		return errorResponse(c, h.logger, "Could not correct discount usage", err)
	}
	return c.JSON(discount)
}
