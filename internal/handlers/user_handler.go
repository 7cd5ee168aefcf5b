package handlers

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"farmmarket/internal/logging"
	"farmmarket/internal/services"
)

// UserHandler serves user administration.
type UserHandler struct {
	service  *services.UserService
	validate *validator.Validate
	logger   *zap.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(service *services.UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		service:  service,
		validate: validator.New(),
		logger:   logging.OrNop(logger).Named("user_handler"),
	}
}

// RegisterAdminRoutes registers user administration routes.
func (h *UserHandler) RegisterAdminRoutes(router fiber.Router) {
	router.Patch("/users/:id/cod-access", h.HandleSetCODAccess)
}

// HandleSetCODAccess grants or revokes cash-on-delivery for a user.
func (h *UserHandler) HandleSetCODAccess(c *fiber.Ctx) error {
	var req struct {
		CODEnabled *bool `json:"cod_enabled" validate:"required"`
	}
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	if valid, err := validateStruct(c, h.validate, req); !valid {
		return err
	}

	user, err := h.service.SetCODAccess(c.UserContext(), c.Params("id"), *req.CODEnabled)
	if err != nil {
		return errorResponse(c, h.logger, "Could not change COD access", err)
	}
	return ok(c, fiber.Map{"user": user})
}
