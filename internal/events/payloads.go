package events

import (
	"github.com/shopspring/decimal"

	"farmmarket/internal/models"
)

type OrderCreatedData struct {
	OrderID       string               `json:"order_id"`
	UserID        *string              `json:"user_id"`
	Status        models.OrderStatus   `json:"status"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	Total         decimal.Decimal      `json:"total"`
	Currency      string               `json:"currency"`
	DiscountCode  string               `json:"discount_code,omitempty"`
	Items         []models.StockLine   `json:"items"`
}

type OrderStatusChangedData struct {
	OrderID    string             `json:"order_id"`
	From       models.OrderStatus `json:"from"`
	To         models.OrderStatus `json:"to"`
	TrackingID *string            `json:"tracking_id,omitempty"`
	Trigger    string             `json:"trigger"` // admin, payment, cancellation
}

type CancellationRequestedData struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

type CancellationResolvedData struct {
	OrderID  string `json:"order_id"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

type StockLowData struct {
	ProductID     string `json:"product_id"`
	Name          string `json:"name"`
	StockQuantity int    `json:"stock_quantity"`
	Threshold     int    `json:"threshold"`
}

// NewOrderCreated builds the payload announcing a freshly placed order.
func NewOrderCreated(order *models.Order) OrderCreatedData {
	data := OrderCreatedData{
		OrderID:       order.ID,
		UserID:        order.UserID,
		Status:        order.Status,
		PaymentMethod: order.PaymentMethod,
		Total:         order.Total,
		Currency:      order.Currency,
		Items:         order.StockLines(),
	}
	if len(order.AppliedDiscounts) > 0 {
		data.DiscountCode = order.AppliedDiscounts[0].Code
	}
	return data
}
