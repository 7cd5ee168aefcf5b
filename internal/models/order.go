package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the closed set of order lifecycle states.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusConfirmed  OrderStatus = "confirmed"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// IsTerminal reports whether no further transition is permitted from s.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// PaymentMethod is the closed set of accepted payment methods.
type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "cod"
	PaymentOnline PaymentMethod = "online"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentCOD || m == PaymentOnline
}

// RequiresPayment reports whether orders paid with m wait for an external payment confirmation.
func (m PaymentMethod) RequiresPayment() bool {
	return m == PaymentOnline
}

// OrderItem represents a single item within an order.
type OrderItem struct {
	ID          string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderID     string          `json:"order_id" gorm:"type:varchar(36);index;not null"`
	ProductID   string          `json:"product_id" gorm:"type:varchar(36);index;not null"`
	ProductName string          `json:"product_name" gorm:"type:varchar(100)"`
	Quantity    int             `json:"quantity" gorm:"not null"`
	UnitPrice   decimal.Decimal `json:"unit_price" gorm:"type:numeric(12,2);not null"` // price at the time of order
}

// LineTotal is the unit price snapshot times the quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ShippingAddress is stored inline on the order row.
type ShippingAddress struct {
	Line1      string `json:"line1" gorm:"type:varchar(255)"`
	Line2      string `json:"line2" gorm:"type:varchar(255)"`
	City       string `json:"city" gorm:"type:varchar(100)"`
	State      string `json:"state" gorm:"type:varchar(100)"`
	PostalCode string `json:"postal_code" gorm:"type:varchar(20)"`
	Country    string `json:"country" gorm:"type:varchar(64)"`
}

// CustomerInfo identifies who placed the order.
type CustomerInfo struct {
	Name  string `json:"name" gorm:"type:varchar(100)"`
	Email string `json:"email" gorm:"type:varchar(255)"`
	Phone string `json:"phone" gorm:"type:varchar(32)"`
}

// UnassignedTracking is shown while an order has no tracking id.
const UnassignedTracking = "not yet assigned"

// Order represents a customer order. Orders are never deleted.
type Order struct {
	ID        string  `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID    *string `json:"user_id" gorm:"type:varchar(36);index"` // nil for guest checkout
	SessionID string  `json:"session_id,omitempty" gorm:"type:varchar(64);index"`

	Items            []OrderItem       `json:"items" gorm:"foreignKey:OrderID"`
	AppliedDiscounts []AppliedDiscount `json:"applied_discounts" gorm:"foreignKey:OrderID"`

	Customer        CustomerInfo    `json:"customer" gorm:"embedded;embeddedPrefix:customer_"`
	ShippingAddress ShippingAddress `json:"shipping_address" gorm:"embedded;embeddedPrefix:ship_"`
	PaymentMethod   PaymentMethod   `json:"payment_method" gorm:"type:varchar(16);not null"`
	PaymentRef      string          `json:"payment_reference,omitempty" gorm:"type:varchar(64)"`  // issued at checkout
	ProviderRef     string          `json:"provider_reference,omitempty" gorm:"type:varchar(128)"` // reported by the payment webhook

	Status     OrderStatus `json:"status" gorm:"type:varchar(16);index;not null"`
	TrackingID *string     `json:"tracking_id" gorm:"type:varchar(64)"`

	CancellationRequestedAt     *time.Time `json:"cancellation_requested_at"`
	CancellationRequestReason   string     `json:"cancellation_request_reason,omitempty" gorm:"type:varchar(500)"`
	CancellationApprovedAt      *time.Time `json:"cancellation_approved_at"`
	CancellationRejectedAt      *time.Time `json:"cancellation_rejected_at"`
	CancellationRejectionReason string     `json:"cancellation_rejection_reason,omitempty" gorm:"type:varchar(500)"`

	PaidAt          *time.Time `json:"paid_at"`
	StockReleasedAt *time.Time `json:"-"`

	Currency            string          `json:"currency" gorm:"type:varchar(3);not null"`
	Subtotal            decimal.Decimal `json:"subtotal" gorm:"type:numeric(12,2);not null"`
	ShippingCost        decimal.Decimal `json:"shipping_cost" gorm:"type:numeric(12,2);not null"`
	DiscountAmount      decimal.Decimal `json:"discount_amount" gorm:"type:numeric(12,2);not null"`
	Total               decimal.Decimal `json:"total" gorm:"type:numeric(12,2);not null"`
	TotalOverrideReason string          `json:"total_override_reason,omitempty" gorm:"type:varchar(500)"`

	Version   int       `json:"version" gorm:"not null;default:1"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TrackingLabel renders the tracking id, or UnassignedTracking when none is set.
func (o Order) TrackingLabel() string {
	if o.TrackingID == nil || *o.TrackingID == "" {
		return UnassignedTracking
	}
	return *o.TrackingID
}

// HasPendingCancellationRequest reports whether a request awaits adjudication.
func (o Order) HasPendingCancellationRequest() bool {
	return o.CancellationRequestedAt != nil && o.CancellationApprovedAt == nil && o.CancellationRejectedAt == nil
}

// OwnedBy reports whether the order belongs to the given user or guest session.
func (o Order) OwnedBy(userID, sessionID string) bool {
	if o.UserID != nil {
		return userID != "" && *o.UserID == userID
	}
	return sessionID != "" && o.SessionID == sessionID
}

// StockLines returns the quantities reserved by the order, one per item.
func (o Order) StockLines() []StockLine {
	lines := make([]StockLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

// StockLine is a quantity of one product to reserve or release.
type StockLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}
