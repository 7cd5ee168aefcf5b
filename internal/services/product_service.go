package services

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"farmmarket/internal/apperrors"
	"farmmarket/internal/logging"
	"farmmarket/internal/models"
	"farmmarket/internal/repositories"
)

// ProductService handles business logic related to products.
type ProductService struct {
	repo   repositories.ProductRepository
	ledger *StockLedger
	logger *zap.Logger
}

// NewProductService creates a new ProductService.
func NewProductService(repo repositories.ProductRepository, ledger *StockLedger, logger *zap.Logger) *ProductService {
	return &ProductService{
		repo:   repo,
		ledger: ledger,
		logger: logging.OrNop(logger).Named("products"),
	}
}

// GetAllProducts retrieves the products on sale, or every product for administrators.
func (s *ProductService) GetAllProducts(ctx context.Context, includeInactive bool) ([]models.Product, error) {
	return s.repo.GetAll(ctx, includeInactive)
}

// GetProductByID retrieves a single product by its ID. Disabled products are hidden unless
// includeInactive is set.
func (s *ProductService) GetProductByID(ctx context.Context, id string, includeInactive bool) (*models.Product, error) {
	product, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !product.Active && !includeInactive {
		return nil, apperrors.NotFound("product.get", "product with ID %s not found", id)
	}
	return product, nil
}

// CreateProduct creates a new product with its opening stock.
func (s *ProductService) CreateProduct(ctx context.Context, product *models.Product) error {
	if err := validateProduct("product.create", product); err != nil {
		return err
	}
	if product.StockQuantity < 0 {
		return apperrors.Validation("product.create", "stock quantity must not be negative")
	}
	product.Active = true
	if err := s.repo.Create(ctx, product); err != nil {
		return err
	}
	s.logger.Info("product created", zap.String("product_id", product.ID), zap.Int("stock", product.StockQuantity))
	return nil
}

// UpdateProduct updates the descriptive fields and price. Stock changes go through AdjustStock.
func (s *ProductService) UpdateProduct(ctx context.Context, product *models.Product) error {
	if err := validateProduct("product.update", product); err != nil {
		return err
	}
	return s.repo.Update(ctx, product)
}

// SetActive enables a product or soft-disables it. Products are never deleted because
// historical orders reference them.
func (s *ProductService) SetActive(ctx context.Context, id string, active bool) error {
	return s.repo.SetActive(ctx, id, active)
}

// ListLowStock lists products at or below their threshold.
func (s *ProductService) ListLowStock(ctx context.Context) ([]models.Product, error) {
	return s.repo.ListLowStock(ctx)
}

// AdjustStock sets the absolute stock of a product.
func (s *ProductService) AdjustStock(ctx context.Context, id string, qty int) (*models.Product, error) {
	return s.ledger.AdjustAbsolute(ctx, id, qty)
}

func validateProduct(op string, p *models.Product) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return apperrors.Validation(op, "product name is required")
	}
	if !p.Price.IsPositive() {
		return apperrors.Validation(op, "price must be positive")
	}
	if p.LowStockThreshold < 0 {
		return apperrors.Validation(op, "low stock threshold must not be negative")
	}
	p.Price = p.Price.Round(2)
	return nil
}
