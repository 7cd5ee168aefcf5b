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

const defaultOrderPageSize = 50

// GORMOrderRepository is a GORM implementation of OrderRepository.
type GORMOrderRepository struct {
	db   *gorm.DB
	inTx bool
}

// NewGORMOrderRepository creates a new instance of GORMOrderRepository.
func NewGORMOrderRepository(db *gorm.DB) *GORMOrderRepository {
	return &GORMOrderRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *GORMOrderRepository) WithTx(tx *gorm.DB) OrderRepository {
	return &GORMOrderRepository{db: tx, inTx: true}
}

func (r *GORMOrderRepository) read(ctx context.Context, fn func() error) error {
	if r.inTx {
		return fn()
	}
	return readWithRetry(ctx, fn)
}

func (r *GORMOrderRepository) withDetails(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("product_id") }).
		Preload("AppliedDiscounts")
}

// List returns orders matching filter, newest first.
func (r *GORMOrderRepository) List(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = defaultOrderPageSize
	}

	var orders []models.Order
	err := r.read(ctx, func() error {
		q := r.withDetails(ctx)
		if filter.UserID != "" {
			q = q.Where("user_id = ?", filter.UserID)
		}
		if filter.SessionID != "" {
			q = q.Where("session_id = ?", filter.SessionID)
		}
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		return q.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&orders).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// GetByID returns an order with its items and applied discounts.
func (r *GORMOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := r.read(ctx, func() error {
		return r.withDetails(ctx).First(&order, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("order.get", "order with ID %s not found", id)
		}
		return nil, fmt.Errorf("failed to get order by ID %s: %w", id, err)
	}
	return &order, nil
}

// Create inserts the order together with its items and applied discounts.
func (r *GORMOrderRepository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	for i := range order.Items {
		if order.Items[i].ID == "" {
			order.Items[i].ID = uuid.New().String()
		}
		order.Items[i].OrderID = order.ID
	}
	for i := range order.AppliedDiscounts {
		if order.AppliedDiscounts[i].ID == "" {
			order.AppliedDiscounts[i].ID = uuid.New().String()
		}
		order.AppliedDiscounts[i].OrderID = order.ID
	}
	if order.Version == 0 {
		order.Version = 1
	}
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// LockByID selects the order FOR UPDATE and loads its details.
func (r *GORMOrderRepository) LockByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := r.withDetails(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("order.lock", "order with ID %s not found", id)
		}
		return nil, fmt.Errorf("failed to lock order %s: %w", id, err)
	}
	return &order, nil
}

// SaveState writes every mutable column guarded by the version counter. A stale version
// means another writer got there first and is reported as a conflict.
func (r *GORMOrderRepository) SaveState(ctx context.Context, order *models.Order, expectedVersion int) error {
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = time.Now()
	}
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND version = ?", order.ID, expectedVersion).
		Updates(map[string]any{
			"status":                        order.Status,
			"tracking_id":                   order.TrackingID,
			"payment_ref":                   order.PaymentRef,
			"provider_ref":                  order.ProviderRef,
			"cancellation_requested_at":     order.CancellationRequestedAt,
			"cancellation_request_reason":   order.CancellationRequestReason,
			"cancellation_approved_at":      order.CancellationApprovedAt,
			"cancellation_rejected_at":      order.CancellationRejectedAt,
			"cancellation_rejection_reason": order.CancellationRejectionReason,
			"paid_at":                       order.PaidAt,
			"stock_released_at":             order.StockReleasedAt,
			"total":                         order.Total,
			"total_override_reason":         order.TotalOverrideReason,
			"version":                       expectedVersion + 1,
			"updated_at":                    order.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to save order %s: %w", order.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.Conflict("order.save", "order %s was modified concurrently", order.ID)
	}
	order.Version = expectedVersion + 1
	return nil
}
