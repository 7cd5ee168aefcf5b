package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a grower's listing in the marketplace.
// StockQuantity is written only by the stock ledger.
type Product struct {
	ID                string          `json:"id" gorm:"primaryKey;type:varchar(36)" validate:"omitempty,uuid"`
	GrowerID          string          `json:"grower_id" gorm:"type:varchar(36);index"`
	Name              string          `json:"name" gorm:"type:varchar(100)" validate:"required,min=3,max=100"`
	Description       string          `json:"description" validate:"omitempty,max=500"`
	Category          string          `json:"category" gorm:"type:varchar(64);index" validate:"omitempty,max=64"`
	Subcategory       string          `json:"subcategory" gorm:"type:varchar(64)" validate:"omitempty,max=64"`
	Price             decimal.Decimal `json:"price" gorm:"type:numeric(12,2);not null"`
	StockQuantity     int             `json:"stock_quantity" gorm:"not null;default:0" validate:"gte=0"`
	LowStockThreshold int             `json:"low_stock_threshold" gorm:"not null;default:0" validate:"gte=0"`
	Active            bool            `json:"active" gorm:"not null;default:true"` // soft-disable, products are never deleted
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// IsLowStock reports whether the product sits at or below its low-stock threshold.
func (p Product) IsLowStock() bool {
	return p.LowStockThreshold > 0 && p.StockQuantity <= p.LowStockThreshold
}
