package repositories

import (
	"context"

	"gorm.io/gorm"

	"farmmarket/internal/models"
)

// OrderFilter narrows order listings. Empty fields do not filter.
type OrderFilter struct {
	UserID    string
	SessionID string
	Status    models.OrderStatus
	Limit     int
	Offset    int
}

// OrderRepository defines the interface for order data access.
// Orders are never deleted.
type OrderRepository interface {
	WithTx(tx *gorm.DB) OrderRepository

	List(ctx context.Context, filter OrderFilter) ([]models.Order, error)
	GetByID(ctx context.Context, id string) (*models.Order, error)
	Create(ctx context.Context, order *models.Order) error

	// LockByID loads the order with its items and holds the row lock until the transaction ends.
	LockByID(ctx context.Context, id string) (*models.Order, error)
	// SaveState persists the mutable fields of order if its version is still expectedVersion.
	SaveState(ctx context.Context, order *models.Order, expectedVersion int) error
}
