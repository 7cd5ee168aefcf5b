package handlers

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"farmmarket/internal/logging"
	"farmmarket/internal/middleware"
	"farmmarket/internal/models"
	"farmmarket/internal/services"
)

// ProductHandler handles HTTP requests for the product catalogue.
type ProductHandler struct {
	service  *services.ProductService
	validate *validator.Validate
	logger   *zap.Logger
}

// NewProductHandler creates a new ProductHandler.
func NewProductHandler(service *services.ProductService, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		service:  service,
		validate: validator.New(),
		logger:   logging.OrNop(logger).Named("product_handler"),
	}
}

// RegisterRoutes registers the public catalogue routes.
func (h *ProductHandler) RegisterRoutes(router fiber.Router) {
	productRoutes := router.Group("/products")
	productRoutes.Get("/", h.HandleGetProducts)
	productRoutes.Get("/:id", h.HandleGetProductByID)
}

// RegisterAdminRoutes registers catalogue management routes. router must already enforce
// the admin role.
func (h *ProductHandler) RegisterAdminRoutes(router fiber.Router) {
	productRoutes := router.Group("/products")
	productRoutes.Get("/", h.HandleGetAllProducts)
	productRoutes.Get("/low-stock", h.HandleLowStock)
	productRoutes.Post("/", h.HandleCreateProduct)
	productRoutes.Put("/:id", h.HandleUpdateProduct)
	productRoutes.Patch("/:id/active", h.HandleSetActive)
	productRoutes.Put("/:id/stock", h.HandleAdjustStock)
}

// ProductRequest is the writable part of a product. Stock is only accepted on creation.
type ProductRequest struct {
	GrowerID          string          `json:"grower_id" validate:"omitempty,max=36"`
	Name              string          `json:"name" validate:"required,min=3,max=100"`
	Description       string          `json:"description" validate:"omitempty,max=500"`
	Category          string          `json:"category" validate:"omitempty,max=64"`
	Subcategory       string          `json:"subcategory" validate:"omitempty,max=64"`
	Price             decimal.Decimal `json:"price"`
	StockQuantity     int             `json:"stock_quantity" validate:"gte=0"`
	LowStockThreshold int             `json:"low_stock_threshold" validate:"gte=0"`
}

func (r ProductRequest) toModel() models.Product {
	return models.Product{
		GrowerID:          r.GrowerID,
		Name:              r.Name,
		Description:       r.Description,
		Category:          r.Category,
		Subcategory:       r.Subcategory,
		Price:             r.Price,
		StockQuantity:     r.StockQuantity,
		LowStockThreshold: r.LowStockThreshold,
	}
}

// HandleGetProducts lists the active catalogue.
func (h *ProductHandler) HandleGetProducts(c *fiber.Ctx) error {
	products, err := h.service.GetAllProducts(c.UserContext(), false)
	if err != nil {
		return errorResponse(c, h.logger, "Could not retrieve products", err)
	}
	return c.JSON(products)
}

// HandleGetAllProducts lists every product, disabled ones included.
func (h *ProductHandler) HandleGetAllProducts(c *fiber.Ctx) error {
	products, err := h.service.GetAllProducts(c.UserContext(), true)
	if err != nil {
		return errorResponse(c, h.logger, "Could not retrieve products", err)
	}
	return c.JSON(products)
}

// HandleGetProductByID retrieves a single product. Disabled products are visible to
// administrators only.
func (h *ProductHandler) HandleGetProductByID(c *fiber.Ctx) error {
	isAdmin := middleware.Role(c) == models.RoleAdmin
	product, err := h.service.GetProductByID(c.UserContext(), c.Params("id"), isAdmin)
	if err != nil {
		return errorResponse(c, h.logger, "Could not retrieve product", err)
	}
	return c.JSON(product)
}

func (h *ProductHandler) HandleLowStock(c *fiber.Ctx) error {
	products, err := h.service.ListLowStock(c.UserContext())
	if err != nil {
		return errorResponse(c, h.logger, "Could not retrieve low stock products", err)
	}
	return c.JSON(products)
}

// HandleCreateProduct creates a new product.
func (h *ProductHandler) HandleCreateProduct(c *fiber.Ctx) error {
	var req ProductRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	if valid, err := validateStruct(c, h.validate, req); !valid {
		return err
	}

	product := req.toModel()
	if err := h.service.CreateProduct(c.UserContext(), &product); err != nil {
		return errorResponse(c, h.logger, "Could not create product", err)
	}
	return c.Status(fiber.StatusCreated).JSON(product)
}

// HandleUpdateProduct updates descriptive fields and price.
func (h *ProductHandler) HandleUpdateProduct(c *fiber.Ctx) error {
	var req ProductRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	if valid, err := validateStruct(c, h.validate, req); !valid {
		return err
	}

	product := req.toModel()
	product.ID = c.Params("id")
	if err := h.service.UpdateProduct(c.UserContext(), &product); err != nil {
		return errorResponse(c, h.logger, "Could not update product", err)
	}
	updated, err := h.service.GetProductByID(c.UserContext(), product.ID, true)
	if err != nil {
		return errorResponse(c, h.logger, "Could not retrieve product", err)
	}
	return c.JSON(updated)
}

// HandleSetActive enables or soft-disables a product.
func (h *ProductHandler) HandleSetActive(c *fiber.Ctx) error {
	var req struct {
		Active *bool `json:"active" validate:"required"`
	}
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	if valid, err := validateStruct(c, h.validate, req); !valid {
		return err
	}

	if err := h.service.SetActive(c.UserContext(), c.Params("id"), *req.Active); err != nil {
		return errorResponse(c, h.logger, "Could not change product availability", err)
	}
	return ok(c, fiber.Map{"active": *req.Active})
}

// HandleAdjustStock sets the absolute stock of a product, bypassing reservation math.
func (h *ProductHandler) HandleAdjustStock(c *fiber.Ctx) error {
	var req struct {
		StockQuantity *int `json:"stock_quantity" validate:"required,gte=0"`
	}
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}
	if valid, err := validateStruct(c, h.validate, req); !valid {
		return err
	}

	product, err := h.service.AdjustStock(c.UserContext(), c.Params("id"), *req.StockQuantity)
	if err != nil {
		return errorResponse(c, h.logger, "Could not adjust stock", err)
	}
	return ok(c, fiber.Map{"product": product})
}
