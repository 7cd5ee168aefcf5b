package repositories_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"farmmarket/internal/apperrors"
	"farmmarket/internal/models"
	"farmmarket/internal/repositories"
	"farmmarket/internal/testutil"
)

func newOrder(status models.OrderStatus) *models.Order {
	return &models.Order{
		PaymentMethod:  models.PaymentCOD,
		Status:         status,
		Currency:       "INR",
		Subtotal:       decimal.NewFromInt(100),
		ShippingCost:   decimal.Zero,
		DiscountAmount: decimal.Zero,
		Total:          decimal.NewFromInt(100),
	}
}

func TestProductRepository_StockCompareAndSwap(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repositories.NewGORMProductRepository(db)
	ctx := context.Background()

	p := &models.Product{Name: "Spinach", Price: decimal.NewFromInt(20), StockQuantity: 3, Active: true}
	require.NoError(t, repo.Create(ctx, p))
	require.NotEmpty(t, p.ID)

	ok, err := repo.DecrementStock(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.DecrementStock(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.False(t, ok, "stock must never go negative")

	require.NoError(t, repo.IncrementStock(ctx, p.ID, 4))
	stored, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.StockQuantity)

	assert.True(t, errors.Is(repo.IncrementStock(ctx, "missing", 1), apperrors.ErrNotFound))
	assert.True(t, errors.Is(repo.SetStock(ctx, "missing", 1), apperrors.ErrNotFound))

	locked, err := repo.LockByIDs(ctx, []string{p.ID, "missing"})
	require.NoError(t, err)
	assert.Len(t, locked, 1)
}

func TestOrderRepository_SaveStateChecksVersion(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repositories.NewGORMOrderRepository(db)
	ctx := context.Background()

	order := newOrder(models.StatusConfirmed)
	order.Items = []models.OrderItem{{ProductID: "p-1", ProductName: "Leeks", Quantity: 2, UnitPrice: decimal.NewFromInt(50)}}
	require.NoError(t, repo.Create(ctx, order))
	assert.Equal(t, 1, order.Version)

	order.Status = models.StatusProcessing
	require.NoError(t, repo.SaveState(ctx, order, 1))
	assert.Equal(t, 2, order.Version)

	stale := *order
	stale.Status = models.StatusCancelled
	err := repo.SaveState(ctx, &stale, 1)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))

	stored, err := repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, stored.Status)
	assert.Equal(t, 2, stored.Version)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "Leeks", stored.Items[0].ProductName)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestDiscountRepository_UsageAndRedemptions(t *testing.T) {
	db := testutil.NewDB(t)
	discounts := repositories.NewGORMDiscountRepository(db)
	orders := repositories.NewGORMOrderRepository(db)
	ctx := context.Background()

	d := &models.Discount{Code: "harvest", Type: models.DiscountFixed, Value: decimal.NewFromInt(5), UsageLimit: 2, Status: models.DiscountActive}
	require.NoError(t, discounts.Create(ctx, d))

	byCode, err := discounts.GetByCode(ctx, " Harvest ")
	require.NoError(t, err)
	assert.Equal(t, d.ID, byCode.ID)

	for i, want := range []bool{true, true, false} {
		ok, err := discounts.TryIncrementUsage(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, want, ok, "attempt %d", i+1)
	}
	stored, err := discounts.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Used)

	dup := &models.Discount{Code: "HARVEST", Type: models.DiscountFixed, Value: decimal.NewFromInt(1), Status: models.DiscountActive}
	assert.True(t, errors.Is(discounts.Create(ctx, dup), apperrors.ErrConflict))

	live := newOrder(models.StatusConfirmed)
	live.AppliedDiscounts = []models.AppliedDiscount{{DiscountID: d.ID, UserKey: "user:1", Code: d.Code, Type: d.Type}}
	require.NoError(t, orders.Create(ctx, live))
	cancelled := newOrder(models.StatusCancelled)
	cancelled.AppliedDiscounts = []models.AppliedDiscount{{DiscountID: d.ID, UserKey: "user:1", Code: d.Code, Type: d.Type}}
	require.NoError(t, orders.Create(ctx, cancelled))

	count, err := discounts.CountRedemptions(ctx, d.ID, "user:1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = discounts.CountRedemptions(ctx, d.ID, "user:2")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGORMTxManager_RollsBack(t *testing.T) {
	db := testutil.NewDB(t)
	txManager := repositories.NewGORMTxManager(db)
	products := repositories.NewGORMProductRepository(db)
	ctx := context.Background()

	p := &models.Product{Name: "Garlic", Price: decimal.NewFromInt(10), StockQuantity: 5, Active: true}
	require.NoError(t, products.Create(ctx, p))

	sentinel := apperrors.Validation("test", "abort")
	err := txManager.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := products.WithTx(tx).DecrementStock(ctx, p.ID, 5); err != nil {
			return err
		}
		return sentinel
	})
	assert.Same(t, sentinel, err, "application errors pass through unchanged")

	stored, err := products.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.StockQuantity)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"bad conn", fmt.Errorf("query: %w", driver.ErrBadConn), true},
		{"pg serialization", &pgconn.PgError{Code: "40001"}, true},
		{"pg deadlock", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"pg unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, repositories.IsTransient(tt.err))
		})
	}
}
