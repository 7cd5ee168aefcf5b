package services

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"farmmarket/internal/apperrors"
	"farmmarket/internal/events"
	"farmmarket/internal/logging"
	"farmmarket/internal/models"
	"farmmarket/internal/repositories"
)

// MaxLineQuantity caps the quantity of one product in a single reservation.
const MaxLineQuantity = 10000

// StockLedger is the only writer of product stock quantities.
type StockLedger struct {
	txManager repositories.TxManager
	products  repositories.ProductRepository
	publisher events.Publisher
	logger    *zap.Logger
}

// NewStockLedger creates a new StockLedger.
func NewStockLedger(txManager repositories.TxManager, products repositories.ProductRepository, publisher events.Publisher, logger *zap.Logger) *StockLedger {
	return &StockLedger{
		txManager: txManager,
		products:  products,
		publisher: events.OrNop(publisher),
		logger:    logging.OrNop(logger).Named("stock"),
	}
}

// Reserve decrements stock for every line in its own transaction, all or nothing.
func (l *StockLedger) Reserve(ctx context.Context, lines []models.StockLine) ([]models.Product, error) {
	var reserved []models.Product
	err := l.txManager.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		reserved, err = l.ReserveTx(ctx, tx, lines)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.NotifyLowStock(ctx, reserved)
	return reserved, nil
}

// LockTx locks the products named by lines and returns them in line order. Unknown or
// disabled products fail the whole batch.
func (l *StockLedger) LockTx(ctx context.Context, tx *gorm.DB, lines []models.StockLine) ([]models.Product, []models.StockLine, error) {
	const op = "stock.lock"
	merged, err := mergeLines(op, lines)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, 0, len(merged))
	for _, line := range merged {
		ids = append(ids, line.ProductID)
	}

	locked, err := l.products.WithTx(tx).LockByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	products, err := available(op, merged, locked)
	if err != nil {
		return nil, nil, err
	}
	return products, merged, nil
}

// Lookup reads the products named by lines without locking them. Prices and stock may change
// before a later checkout.
func (l *StockLedger) Lookup(ctx context.Context, lines []models.StockLine) ([]models.Product, []models.StockLine, error) {
	const op = "stock.lookup"
	merged, err := mergeLines(op, lines)
	if err != nil {
		return nil, nil, err
	}
	found := make([]models.Product, 0, len(merged))
	for _, line := range merged {
		p, err := l.products.GetByID(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			return nil, nil, err
		}
		found = append(found, *p)
	}
	products, err := available(op, merged, found)
	if err != nil {
		return nil, nil, err
	}
	return products, merged, nil
}

// available orders found by merged and fails on unknown or disabled products.
func available(op string, merged []models.StockLine, found []models.Product) ([]models.Product, error) {
	byID := make(map[string]models.Product, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	products := make([]models.Product, 0, len(merged))
	for _, line := range merged {
		p, ok := byID[line.ProductID]
		if !ok {
			return nil, apperrors.NotFound(op, "product with ID %s not found", line.ProductID)
		}
		if !p.Active {
			return nil, apperrors.Validation(op, "product %s is not available", p.ID)
		}
		products = append(products, p)
	}
	return products, nil
}

// ReserveTx runs the reservation inside tx. Every product short of stock is reported in one
// InsufficientStock error; the caller's rollback undoes any decrement already applied.
// The returned products carry their post-reservation quantities.
func (l *StockLedger) ReserveTx(ctx context.Context, tx *gorm.DB, lines []models.StockLine) ([]models.Product, error) {
	const op = "stock.reserve"
	products, merged, err := l.LockTx(ctx, tx, lines)
	if err != nil {
		return nil, err
	}

	var short []string
	for i, line := range merged {
		if products[i].StockQuantity < line.Quantity {
			short = append(short, line.ProductID)
		}
	}
	if len(short) > 0 {
		return nil, apperrors.InsufficientStock(op, short)
	}

	repo := l.products.WithTx(tx)
	for i, line := range merged {
		ok, err := repo.DecrementStock(ctx, line.ProductID, line.Quantity)
		if err != nil {
			return nil, err
		}
		if !ok {
			short = append(short, line.ProductID)
			continue
		}
		products[i].StockQuantity -= line.Quantity
	}
	if len(short) > 0 {
		return nil, apperrors.InsufficientStock(op, short)
	}
	return products, nil
}

// Release returns stock in its own transaction.
func (l *StockLedger) Release(ctx context.Context, lines []models.StockLine) error {
	return l.txManager.WithTx(ctx, func(tx *gorm.DB) error {
		return l.ReleaseTx(ctx, tx, lines)
	})
}

// ReleaseTx adds the quantities back inside tx. Callers guard against releasing the same
// order twice.
func (l *StockLedger) ReleaseTx(ctx context.Context, tx *gorm.DB, lines []models.StockLine) error {
	merged, err := mergeLines("stock.release", lines)
	if err != nil {
		return err
	}
	repo := l.products.WithTx(tx)
	for _, line := range merged {
		if err := repo.IncrementStock(ctx, line.ProductID, line.Quantity); err != nil {
			return err
		}
	}
	l.logger.Debug("stock released", zap.Int("lines", len(merged)))
	return nil
}

// AdjustAbsolute overwrites the stock of one product. It bypasses reservation math and is
// meant for restocking and stocktake corrections.
func (l *StockLedger) AdjustAbsolute(ctx context.Context, productID string, qty int) (*models.Product, error) {
	const op = "stock.adjust"
	if qty < 0 {
		return nil, apperrors.Validation(op, "stock quantity must not be negative")
	}
	var product models.Product
	err := l.txManager.WithTx(ctx, func(tx *gorm.DB) error {
		repo := l.products.WithTx(tx)
		locked, err := repo.LockByIDs(ctx, []string{productID})
		if err != nil {
			return err
		}
		if len(locked) == 0 {
			return apperrors.NotFound(op, "product with ID %s not found", productID)
		}
		if err := repo.SetStock(ctx, productID, qty); err != nil {
			return err
		}
		product = locked[0]
		l.logger.Info("stock adjusted",
			zap.String("product_id", productID),
			zap.Int("from", product.StockQuantity),
			zap.Int("to", qty))
		product.StockQuantity = qty
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.NotifyLowStock(ctx, []models.Product{product})
	return &product, nil
}

// NotifyLowStock announces every product at or below its threshold. Call it after commit.
func (l *StockLedger) NotifyLowStock(ctx context.Context, products []models.Product) {
	for _, p := range products {
		if !p.IsLowStock() {
			continue
		}
		l.publisher.Publish(ctx, events.StockLow, p.ID, events.StockLowData{
			ProductID:     p.ID,
			Name:          p.Name,
			StockQuantity: p.StockQuantity,
			Threshold:     p.LowStockThreshold,
		})
	}
}

// mergeLines folds duplicate products together and sorts by product id.
func mergeLines(op string, lines []models.StockLine) ([]models.StockLine, error) {
	if len(lines) == 0 {
		return nil, apperrors.Validation(op, "at least one item is required")
	}
	totals := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.ProductID == "" {
			return nil, apperrors.Validation(op, "product id is required")
		}
		if line.Quantity <= 0 {
			return nil, apperrors.Validation(op, "quantity for product %s must be positive", line.ProductID)
		}
		if line.Quantity > MaxLineQuantity-totals[line.ProductID] {
			return nil, apperrors.Validation(op, "quantity for product %s exceeds %d", line.ProductID, MaxLineQuantity)
		}
		totals[line.ProductID] += line.Quantity
	}
	merged := make([]models.StockLine, 0, len(totals))
	for id, qty := range totals {
		merged = append(merged, models.StockLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged, nil
}
