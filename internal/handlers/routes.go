package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"farmmarket/internal/middleware"
	"farmmarket/internal/services"
)

// Services bundles what the HTTP layer calls into.
type Services struct {
	Auth     *services.AuthService
	Users    *services.UserService
	Products *services.ProductService
	Discount *services.DiscountService
	Checkout *services.CheckoutService
	Orders   *services.OrderService

	PaymentWebhookSecret string
}

// RegisterRoutes mounts every route on router, normally the /api/v1 group.
//
// Public: auth and the signed payment webhook. Shopper routes accept a signed-in user or a
// guest session. Admin routes require the admin role.
func RegisterRoutes(router fiber.Router, svc Services, logger *zap.Logger) {
	NewAuthHandler(svc.Auth, logger).RegisterRoutes(router)
	NewPaymentHandler(svc.Orders, svc.PaymentWebhookSecret, logger).RegisterRoutes(router)

	productHandler := NewProductHandler(svc.Products, logger)
	discountHandler := NewDiscountHandler(svc.Discount, svc.Checkout, logger)
	orderHandler := NewOrderHandler(svc.Orders, logger)

	admin := router.Group("/admin", middleware.AuthRequired(svc.Auth, logger), middleware.AdminOnly())
	productHandler.RegisterAdminRoutes(admin)
	discountHandler.RegisterAdminRoutes(admin)
	orderHandler.RegisterAdminRoutes(admin)
	NewUserHandler(svc.Users, logger).RegisterAdminRoutes(admin)

	shopper := router.Group("", middleware.OptionalAuth(svc.Auth, logger))
	productHandler.RegisterRoutes(shopper)
	discountHandler.RegisterRoutes(shopper)
	NewCheckoutHandler(svc.Checkout, logger).RegisterRoutes(shopper)
	orderHandler.RegisterRoutes(shopper)
}
