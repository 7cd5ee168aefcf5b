package repositories

import (
	"context"

	"gorm.io/gorm"

	"farmmarket/internal/models"
)

// UserRepository defines the interface for user data access.
type UserRepository interface {
	WithTx(tx *gorm.DB) UserRepository

	Create(ctx context.Context, user *models.User) error
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	SetCODEnabled(ctx context.Context, id string, enabled bool) error
}
