package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType is the closed set of discount calculations.
type DiscountType string

const (
	DiscountPercentage   DiscountType = "percentage"
	DiscountFixed        DiscountType = "fixed"
	DiscountFreeShipping DiscountType = "free_shipping"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	switch t {
	case DiscountPercentage, DiscountFixed, DiscountFreeShipping:
		return true
	}
	return false
}

// DiscountStatus is the administrative state of a discount.
type DiscountStatus string

const (
	DiscountActive    DiscountStatus = "active"
	DiscountScheduled DiscountStatus = "scheduled"
	DiscountExpired   DiscountStatus = "expired"
	DiscountDisabled  DiscountStatus = "disabled"
)

// Valid reports whether s is a known discount status.
func (s DiscountStatus) Valid() bool {
	switch s {
	case DiscountActive, DiscountScheduled, DiscountExpired, DiscountDisabled:
		return true
	}
	return false
}

// Discount is an administrator-defined promotion code.
// Used only grows, and never beyond UsageLimit when a limit is set.
type Discount struct {
	ID          string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Code        string          `json:"code" gorm:"uniqueIndex;type:varchar(64);not null"`
	Description string          `json:"description" gorm:"type:varchar(255)"`
	Type        DiscountType    `json:"type" gorm:"type:varchar(16);not null"`
	Value       decimal.Decimal `json:"value" gorm:"type:numeric(12,2);not null"`
	MinPurchase decimal.Decimal `json:"min_purchase" gorm:"type:numeric(12,2);not null;default:0"`
	UsageLimit  int             `json:"usage_limit" gorm:"not null;default:0"` // 0 means unlimited
	PerUser     bool            `json:"per_user" gorm:"not null;default:false"`
	Used        int             `json:"used" gorm:"not null;default:0"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
	Status      DiscountStatus  `json:"status" gorm:"type:varchar(16);not null;default:active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NormalizeDiscountCode returns the canonical, case-insensitive form of a code.
func NormalizeDiscountCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// HasCapacity reports whether another redemption fits under the global usage limit.
func (d Discount) HasCapacity() bool {
	return d.UsageLimit == 0 || d.Used < d.UsageLimit
}

// InWindow reports whether now falls inside [StartDate, EndDate]. Zero bounds are open.
func (d Discount) InWindow(now time.Time) bool {
	if !d.StartDate.IsZero() && now.Before(d.StartDate) {
		return false
	}
	if !d.EndDate.IsZero() && now.After(d.EndDate) {
		return false
	}
	return true
}

// AppliedDiscount snapshots a discount applied to an order. It doubles as the redemption
// record used for per-user checks.
type AppliedDiscount struct {
	ID         string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderID    string          `json:"order_id" gorm:"type:varchar(36);index;not null"`
	DiscountID string          `json:"discount_id" gorm:"type:varchar(36);index:idx_redemption_user;not null"`
	UserKey    string          `json:"-" gorm:"type:varchar(80);index:idx_redemption_user;not null"`
	Code       string          `json:"code" gorm:"type:varchar(64)"`
	Type       DiscountType    `json:"type" gorm:"type:varchar(16)"`
	Value      decimal.Decimal `json:"value" gorm:"type:numeric(12,2)"`
	Amount     decimal.Decimal `json:"amount" gorm:"type:numeric(12,2)"`
	CreatedAt  time.Time       `json:"created_at"`
}
