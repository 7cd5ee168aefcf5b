package services

import (
	"github.com/shopspring/decimal"

	"farmmarket/internal/models"
)

var hundred = decimal.NewFromInt(100)

// ShippingPolicy charges a flat fee unless the subtotal reaches FreeAbove. A zero FreeAbove
// never waives the fee.
type ShippingPolicy struct {
	FlatFee   decimal.Decimal
	FreeAbove decimal.Decimal
}

// Cost returns the shipping charged for subtotal.
func (p ShippingPolicy) Cost(subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() {
		return decimal.Zero
	}
	if p.FreeAbove.IsPositive() && subtotal.GreaterThanOrEqual(p.FreeAbove) {
		return decimal.Zero
	}
	return p.FlatFee.Round(2)
}

// Pricing is the breakdown of an order total.
type Pricing struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	Shipping       decimal.Decimal `json:"shipping"`
	Base           decimal.Decimal `json:"base"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
}

// ComputePricing applies at most one discount to subtotal plus shipping.
func ComputePricing(subtotal, shipping decimal.Decimal, discount *models.Discount) Pricing {
	base := subtotal.Add(shipping)
	p := Pricing{
		Subtotal:       subtotal,
		Shipping:       shipping,
		Base:           base,
		DiscountAmount: decimal.Zero,
		Total:          base,
	}
	if discount == nil {
		return p
	}
	p.DiscountAmount = DiscountAmount(discount.Type, discount.Value, base, shipping)
	p.Total = decimal.Max(decimal.Zero, base.Sub(p.DiscountAmount))
	return p
}

// DiscountAmount is the amount a discount of type t and value v takes off base.
// It never exceeds base.
func DiscountAmount(t models.DiscountType, v, base, shipping decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch t {
	case models.DiscountPercentage:
		amount = base.Mul(v).Div(hundred).Round(2)
	case models.DiscountFixed:
		amount = decimal.Min(v, base)
	case models.DiscountFreeShipping:
		amount = shipping
	default:
		return decimal.Zero
	}
	if amount.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(amount, base)
}
