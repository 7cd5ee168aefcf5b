package repositories

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"farmmarket/internal/apperrors"
	"farmmarket/internal/models"
)

// GORMProductRepository is a GORM implementation of ProductRepository.
type GORMProductRepository struct {
	db   *gorm.DB
	inTx bool
}

// NewGORMProductRepository creates a new instance of GORMProductRepository.
func NewGORMProductRepository(db *gorm.DB) *GORMProductRepository {
	return &GORMProductRepository{
		db: db,
	}
}

// WithTx returns a repository bound to tx.
func (r *GORMProductRepository) WithTx(tx *gorm.DB) ProductRepository {
	return &GORMProductRepository{db: tx, inTx: true}
}

func (r *GORMProductRepository) read(ctx context.Context, fn func() error) error {
	if r.inTx {
		return fn()
	}
	return readWithRetry(ctx, fn)
}

// GetAll retrieves products ordered by name, optionally including disabled ones.
func (r *GORMProductRepository) GetAll(ctx context.Context, includeInactive bool) ([]models.Product, error) {
	var products []models.Product
	err := r.read(ctx, func() error {
		q := r.db.WithContext(ctx).Order("name")
		if !includeInactive {
			q = q.Where("active = ?", true)
		}
		return q.Find(&products).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get all products: %w", err)
	}
	return products, nil
}

// GetByID retrieves a single product by its ID from the database.
func (r *GORMProductRepository) GetByID(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := r.read(ctx, func() error {
		return r.db.WithContext(ctx).First(&product, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("product.get", "product with ID %s not found", id)
		}
		return nil, fmt.Errorf("failed to get product by ID %s: %w", id, err)
	}
	return &product, nil
}

// Create creates a new product in the database.
func (r *GORMProductRepository) Create(ctx context.Context, product *models.Product) error {
	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(product).Error; err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

// Update changes the descriptive fields and price of a product. Stock is left alone;
// it belongs to the stock ledger.
func (r *GORMProductRepository) Update(ctx context.Context, product *models.Product) error {
	res := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ?", product.ID).
		Updates(map[string]any{
			"name":                product.Name,
			"description":         product.Description,
			"category":            product.Category,
			"subcategory":         product.Subcategory,
			"price":               product.Price,
			"low_stock_threshold": product.LowStockThreshold,
			"updated_at":          time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update product: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("product.update", "product with ID %s not found for update", product.ID)
	}
	return nil
}

// SetActive enables or soft-disables a product.
func (r *GORMProductRepository) SetActive(ctx context.Context, id string, active bool) error {
	res := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ?", id).
		Updates(map[string]any{"active": active, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to change product %s availability: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("product.set_active", "product with ID %s not found", id)
	}
	return nil
}

// ListLowStock returns active products at or below their low-stock threshold.
func (r *GORMProductRepository) ListLowStock(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := r.read(ctx, func() error {
		return r.db.WithContext(ctx).
			Where("active = ? AND low_stock_threshold > 0 AND stock_quantity <= low_stock_threshold", true).
			Order("stock_quantity").
			Find(&products).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list low-stock products: %w", err)
	}
	return products, nil
}

// LockByIDs selects the rows FOR UPDATE in id order so that concurrent lockers never deadlock.
// Missing ids are simply absent from the result.
func (r *GORMProductRepository) LockByIDs(ctx context.Context, ids []string) ([]models.Product, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	var products []models.Product
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", sorted).
		Order("id").
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("failed to lock products: %w", err)
	}
	return products, nil
}

// DecrementStock is a compare-and-swap on stock_quantity.
func (r *GORMProductRepository) DecrementStock(ctx context.Context, id string, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ? AND stock_quantity >= ?", id, qty).
		Updates(map[string]any{
			"stock_quantity": gorm.Expr("stock_quantity - ?", qty),
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to decrement stock of product %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// IncrementStock adds qty back to a product.
func (r *GORMProductRepository) IncrementStock(ctx context.Context, id string, qty int) error {
	res := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"stock_quantity": gorm.Expr("stock_quantity + ?", qty),
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to increment stock of product %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("product.increment_stock", "product with ID %s not found", id)
	}
	return nil
}

// SetStock overwrites the stock quantity.
func (r *GORMProductRepository) SetStock(ctx context.Context, id string, qty int) error {
	res := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ?", id).
		Updates(map[string]any{"stock_quantity": qty, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to set stock of product %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("product.set_stock", "product with ID %s not found", id)
	}
	return nil
}
