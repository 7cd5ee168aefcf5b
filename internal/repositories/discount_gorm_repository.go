package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"farmmarket/internal/apperrors"
	"farmmarket/internal/models"
)

// GORMDiscountRepository is a GORM implementation of DiscountRepository.
type GORMDiscountRepository struct {
	db   *gorm.DB
	inTx bool
}

// NewGORMDiscountRepository creates a new instance of GORMDiscountRepository.
func NewGORMDiscountRepository(db *gorm.DB) *GORMDiscountRepository {
	return &GORMDiscountRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *GORMDiscountRepository) WithTx(tx *gorm.DB) DiscountRepository {
	return &GORMDiscountRepository{db: tx, inTx: true}
}

func (r *GORMDiscountRepository) read(ctx context.Context, fn func() error) error {
	if r.inTx {
		return fn()
	}
	return readWithRetry(ctx, fn)
}

// GetAll lists discounts, newest first.
func (r *GORMDiscountRepository) GetAll(ctx context.Context) ([]models.Discount, error) {
	var discounts []models.Discount
	err := r.read(ctx, func() error {
		return r.db.WithContext(ctx).Order("created_at DESC").Find(&discounts).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list discounts: %w", err)
	}
	return discounts, nil
}

// GetByID retrieves a discount by its ID.
func (r *GORMDiscountRepository) GetByID(ctx context.Context, id string) (*models.Discount, error) {
	var discount models.Discount
	err := r.read(ctx, func() error {
		return r.db.WithContext(ctx).First(&discount, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("discount.get", "discount with ID %s not found", id)
		}
		return nil, fmt.Errorf("failed to get discount by ID %s: %w", id, err)
	}
	return &discount, nil
}

// GetByCode retrieves a discount by code, ignoring case.
func (r *GORMDiscountRepository) GetByCode(ctx context.Context, code string) (*models.Discount, error) {
	normalized := models.NormalizeDiscountCode(code)
	var discount models.Discount
	err := r.read(ctx, func() error {
		return r.db.WithContext(ctx).First(&discount, "code = ?", normalized).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("discount.get", "discount with code %s not found", normalized)
		}
		return nil, fmt.Errorf("failed to get discount by code %s: %w", normalized, err)
	}
	return &discount, nil
}

// Create stores a new discount with its code normalized.
func (r *GORMDiscountRepository) Create(ctx context.Context, discount *models.Discount) error {
	if discount.ID == "" {
		discount.ID = uuid.New().String()
	}
	discount.Code = models.NormalizeDiscountCode(discount.Code)
	if err := r.db.WithContext(ctx).Create(discount).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.Conflict("discount.create", "discount code %s already exists", discount.Code)
		}
		return fmt.Errorf("failed to create discount: %w", err)
	}
	return nil
}

// Update rewrites the administrator-editable fields. Used is not touched here.
func (r *GORMDiscountRepository) Update(ctx context.Context, discount *models.Discount) error {
	discount.Code = models.NormalizeDiscountCode(discount.Code)
	res := r.db.WithContext(ctx).Model(&models.Discount{}).
		Where("id = ?", discount.ID).
		Updates(map[string]any{
			"code":         discount.Code,
			"description":  discount.Description,
			"type":         discount.Type,
			"value":        discount.Value,
			"min_purchase": discount.MinPurchase,
			"usage_limit":  discount.UsageLimit,
			"per_user":     discount.PerUser,
			"start_date":   discount.StartDate,
			"end_date":     discount.EndDate,
			"status":       discount.Status,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return apperrors.Conflict("discount.update", "discount code %s already exists", discount.Code)
		}
		return fmt.Errorf("failed to update discount: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("discount.update", "discount with ID %s not found for update", discount.ID)
	}
	return nil
}

// LockByID selects the discount FOR UPDATE.
func (r *GORMDiscountRepository) LockByID(ctx context.Context, id string) (*models.Discount, error) {
	var discount models.Discount
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&discount, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("discount.lock", "discount with ID %s not found", id)
		}
		return nil, fmt.Errorf("failed to lock discount %s: %w", id, err)
	}
	return &discount, nil
}

// TryIncrementUsage is the compare-and-increment guarding the usage limit.
func (r *GORMDiscountRepository) TryIncrementUsage(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Discount{}).
		Where("id = ? AND (usage_limit = 0 OR used < usage_limit)", id).
		Updates(map[string]any{
			"used":       gorm.Expr("used + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to increment usage of discount %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// SetUsed overwrites the usage counter; reserved for administrative corrections.
func (r *GORMDiscountRepository) SetUsed(ctx context.Context, id string, used int) error {
	res := r.db.WithContext(ctx).Model(&models.Discount{}).
		Where("id = ?", id).
		Updates(map[string]any{"used": used, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to set usage of discount %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("discount.set_used", "discount with ID %s not found", id)
	}
	return nil
}

// CountRedemptions counts non-cancelled orders of userKey that applied the discount.
func (r *GORMDiscountRepository) CountRedemptions(ctx context.Context, discountID, userKey string) (int64, error) {
	var count int64
	err := r.read(ctx, func() error {
		return r.db.WithContext(ctx).Model(&models.AppliedDiscount{}).
			Joins("JOIN orders ON orders.id = applied_discounts.order_id").
			Where("applied_discounts.discount_id = ? AND applied_discounts.user_key = ? AND orders.status <> ?",
				discountID, userKey, models.StatusCancelled).
			Count(&count).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count redemptions of discount %s: %w", discountID, err)
	}
	return count, nil
}
