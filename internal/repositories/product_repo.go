package repositories

import (
	"context"

	"gorm.io/gorm"

	"farmmarket/internal/models"
)

// ProductRepository defines the interface for product data access.
type ProductRepository interface {
	WithTx(tx *gorm.DB) ProductRepository

	GetAll(ctx context.Context, includeInactive bool) ([]models.Product, error)
	GetByID(ctx context.Context, id string) (*models.Product, error)
	Create(ctx context.Context, product *models.Product) error
	Update(ctx context.Context, product *models.Product) error
	SetActive(ctx context.Context, id string, active bool) error
	ListLowStock(ctx context.Context) ([]models.Product, error)

	// LockByIDs loads the products and holds their row locks until the transaction ends.
	LockByIDs(ctx context.Context, ids []string) ([]models.Product, error)
	// DecrementStock subtracts qty only if enough stock remains and reports whether it did.
	DecrementStock(ctx context.Context, id string, qty int) (bool, error)
	IncrementStock(ctx context.Context, id string, qty int) error
	SetStock(ctx context.Context, id string, qty int) error
}
