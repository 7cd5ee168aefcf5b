package handlers

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"farmmarket/internal/logging"
	"farmmarket/internal/middleware"
	"farmmarket/internal/models"
	"farmmarket/internal/repositories"
	"farmmarket/internal/services"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// OrderHandler handles HTTP requests for orders.
type OrderHandler struct {
	service  *services.OrderService
	validate *validator.Validate
	logger   *zap.Logger
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(service *services.OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: validator.New(),
		logger:   logging.OrNop(logger).Named("order_handler"),
	}
}

// RegisterRoutes registers the shopper's order routes. router must run OptionalAuth.
func (h *OrderHandler) RegisterRoutes(router fiber.Router) {
	orderRoutes := router.Group("/orders")
	orderRoutes.Get("/", h.HandleGetOrders)
	orderRoutes.Get("/:id", h.HandleGetOrderByID)
	orderRoutes.Post("/:id/request-cancellation", h.HandleRequestCancellation)
}

// RegisterAdminRoutes registers order administration routes.
func (h *OrderHandler) RegisterAdminRoutes(router fiber.Router) {
	orderRoutes := router.Group("/orders")
	orderRoutes.Get("/", h.HandleListAllOrders)
	orderRoutes.Get("/:id", h.HandleGetOrderByID)
	orderRoutes.Patch("/:id/status", h.HandleUpdateOrderStatus)
	orderRoutes.Post("/:id/cancellation/approve", h.HandleApproveCancellation)
	orderRoutes.Post("/:id/cancellation/reject", h.HandleRejectCancellation)
	orderRoutes.Patch("/:id/total", h.HandleOverrideTotal)
}

// orderView adds the rendered tracking label to an order.
type orderView struct {
	models.Order
	TrackingLabel string `json:"tracking_label"`
}

func viewOf(order *models.Order) orderView {
	return orderView{Order: *order, TrackingLabel: order.TrackingLabel()}
}

func viewsOf(orders []models.Order) []orderView {
	views := make([]orderView, 0, len(orders))
	for i := range orders {
		views = append(views, viewOf(&orders[i]))
	}
	return views
}

func page(c *fiber.Ctx) (limit, offset int) {
	limit = c.QueryInt("limit", defaultPageSize)
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset = c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// HandleGetOrders lists the caller's own orders.
func (h *OrderHandler) HandleGetOrders(c *fiber.Ctx) error {
	limit, offset := page(c)
	orders, err := h.service.ListForUser(c.UserContext(), middleware.Actor(c), limit, offset)
	if err != nil {
		return errorResponse(c, h.logger, "Could not retrieve orders", err)
	}
	return c.JSON(viewsOf(orders))
}

// HandleListAllOrders lists every order, optionally filtered by status or user.
func (h *OrderHandler) HandleListAllOrders(c *fiber.Ctx) error {
	limit, offset := page(c)
	orders, err := h.service.ListAll(c.UserContext(), repositories.OrderFilter{
		UserID: c.Query("user_id"),
		Status: models.OrderStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return errorResponse(c, h.logger, "Could not retrieve orders", err)
	}
	return c.JSON(viewsOf(orders))
}

// HandleGetOrderByID retrieves a single order by its ID. Orders of other users look missing.
func (h *OrderHandler) HandleGetOrderByID(c *fiber.Ctx) error {
	order, err := h.service.Get(c.UserContext(), c.Params("id"), middleware.Actor(c))
	if err != nil {
		return errorResponse(c, h.logger, "Could not retrieve order", err)
	}
	return c.JSON(viewOf(order))
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

// HandleRequestCancellation records the owner's request to cancel an order.
func (h *OrderHandler) HandleRequestCancellation(c *fiber.Ctx) error {
	var req reasonRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	if valid, err := validateStruct(c, h.validate, req); !valid {
		return err
	}

	order, err := h.service.RequestCancellation(c.UserContext(), c.Params("id"), middleware.Actor(c), req.Reason)
	if err != nil {
		return errorResponse(c, h.logger, "Cancellation request failed", err)
	}
	return ok(c, fiber.Map{"order": viewOf(order)})
}

// HandleUpdateOrderStatus moves an order along the lifecycle.
func (h *OrderHandler) HandleUpdateOrderStatus(c *fiber.Ctx) error {
	var req struct {
		Status     models.OrderStatus `json:"status" validate:"required"`
		TrackingID *string            `json:"tracking_id" validate:"omitempty,max=64"`
	}
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	if valid, err := validateStruct(c, h.validate, req); !valid {
		return err
	}

	order, err := h.service.UpdateStatus(c.UserContext(), c.Params("id"), req.Status, req.TrackingID)
	if err != nil {
		return errorResponse(c, h.logger, "Order status update failed", err)
	}
	return ok(c, fiber.Map{"order": viewOf(order)})
}

// HandleApproveCancellation approves a pending request, cancelling the order.
func (h *OrderHandler) HandleApproveCancellation(c *fiber.Ctx) error {
	order, err := h.service.ApproveCancellation(c.UserContext(), c.Params("id"))
	if err != nil {
		return errorResponse(c, h.logger, "Cancellation approval failed", err)
	}
	return ok(c, fiber.Map{"order": viewOf(order)})
}

// HandleRejectCancellation rejects a pending request. The body is optional.
func (h *OrderHandler) HandleRejectCancellation(c *fiber.Ctx) error {
	var req reasonRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return invalidBody(c, err)
		}
		if valid, err := validateStruct(c, h.validate, req); !valid {
			return err
		}
	}

	order, err := h.service.RejectCancellation(c.UserContext(), c.Params("id"), req.Reason)
	if err != nil {
		return errorResponse(c, h.logger, "Cancellation rejection failed", err)
	}
	return ok(c, fiber.Map{"order": viewOf(order)})
}

// HandleOverrideTotal replaces an order total with an administrator's figure.
func (h *OrderHandler) HandleOverrideTotal(c *fiber.Ctx) error {
	var req struct {
		Total  decimal.Decimal `json:"total"`
		Reason string          `json:"reason" validate:"required,max=2000"`
	}
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	if valid, err := validateStruct(c, h.validate, req); !valid {
		return err
	}

	order, err := h.service.OverrideTotal(c.UserContext(), c.Params("id"), req.Total, req.Reason)
	if err != nil {
		return errorResponse(c, h.logger, "Order total override failed", err)
	}
	h.logger.Info("total override by administrator",
		zap.String("order_id", order.ID),
		zap.String("admin_id", middleware.UserID(c)))
	return ok(c, fiber.Map{"order": viewOf(order)})
}
