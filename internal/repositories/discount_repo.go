package repositories

import (
	"context"

	"gorm.io/gorm"

	"farmmarket/internal/models"
)

// DiscountRepository defines the interface for discount data access.
type DiscountRepository interface {
	WithTx(tx *gorm.DB) DiscountRepository

	GetAll(ctx context.Context) ([]models.Discount, error)
	GetByID(ctx context.Context, id string) (*models.Discount, error)
	GetByCode(ctx context.Context, code string) (*models.Discount, error)
	Create(ctx context.Context, discount *models.Discount) error
	Update(ctx context.Context, discount *models.Discount) error

	// LockByID loads the discount and holds its row lock until the transaction ends.
	LockByID(ctx context.Context, id string) (*models.Discount, error)
	// TryIncrementUsage adds one use only while the usage limit allows it and reports whether it did.
	TryIncrementUsage(ctx context.Context, id string) (bool, error)
	SetUsed(ctx context.Context, id string, used int) error
	// CountRedemptions counts applications of the discount by userKey on orders that were not cancelled.
	CountRedemptions(ctx context.Context, discountID, userKey string) (int64, error)
}
