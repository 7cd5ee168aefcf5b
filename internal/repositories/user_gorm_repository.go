package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"farmmarket/internal/apperrors"
	"farmmarket/internal/models"
)

// GORMUserRepository is a GORM implementation of UserRepository.
type GORMUserRepository struct {
	db *gorm.DB
}

// NewGORMUserRepository creates a new instance of GORMUserRepository.
func NewGORMUserRepository(db *gorm.DB) *GORMUserRepository {
	return &GORMUserRepository{
		db: db,
	}
}

// WithTx returns a repository bound to tx.
func (r *GORMUserRepository) WithTx(tx *gorm.DB) UserRepository {
	return &GORMUserRepository{db: tx}
}

// Create creates a new user in the database.
func (r *GORMUserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Role == "" {
		user.Role = models.RoleCustomer
	}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByUsername retrieves a user by their username from the database.
func (r *GORMUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.first(ctx, "username = ?", username, fmt.Sprintf("user with username %s not found", username))
}

// GetByEmail retrieves a user by their email from the database.
func (r *GORMUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.first(ctx, "email = ?", email, fmt.Sprintf("user with email %s not found", email))
}

// GetByID retrieves a user by their ID from the database.
func (r *GORMUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.first(ctx, "id = ?", id, fmt.Sprintf("user with ID %s not found", id))
}

// SetCODEnabled grants or revokes cash-on-delivery for a user.
func (r *GORMUserRepository) SetCODEnabled(ctx context.Context, id string, enabled bool) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"cod_enabled": enabled, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to update cod access for user %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("user.cod_access", "user with ID %s not found", id)
	}
	return nil
}

func (r *GORMUserRepository) first(ctx context.Context, query, arg, notFound string) (*models.User, error) {
	var user models.User
	err := readWithRetry(ctx, func() error {
		return r.db.WithContext(ctx).First(&user, query, arg).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("user.get", "%s", notFound)
		}
		return nil, fmt.Errorf("failed to get user (%s): %w", arg, err)
	}
	return &user, nil
}
