package models

import (
	"time"

	"farmmarket/internal/apperrors"

	"github.com/shopspring/decimal"
)

// orderTransitions lists every edge an administrator may take directly.
// pending -> confirmed is absent on purpose: only a payment confirmation moves it.
var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

// CanCancelOrder reports whether an order in status may still be cancelled.
func CanCancelOrder(status OrderStatus) bool {
	switch status {
	case StatusPending, StatusConfirmed, StatusProcessing:
		return true
	}
	return false
}

// CanTransition reports whether an administrator may move an order from one status to another.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RequestCancellation records a customer's cancellation request without changing the status.
func (o *Order) RequestCancellation(reason string, now time.Time) error {
	const op = "order.request_cancellation"
	if !CanCancelOrder(o.Status) {
		return apperrors.InvalidTransition(op, "order %s cannot be cancelled in status %s", o.ID, o.Status)
	}
	if o.HasPendingCancellationRequest() {
		return apperrors.Conflict(op, "order %s already has a pending cancellation request", o.ID)
	}
	at := now
	o.CancellationRequestedAt = &at
	o.CancellationRequestReason = reason
	// A fresh request supersedes the previous adjudication.
	o.CancellationRejectedAt = nil
	o.CancellationRejectionReason = ""
	o.UpdatedAt = now
	return nil
}

// ApproveCancellation cancels the order and returns the stock lines to release.
// The returned slice is empty when the stock was already released.
func (o *Order) ApproveCancellation(now time.Time) ([]StockLine, error) {
	const op = "order.approve_cancellation"
	if o.CancellationApprovedAt != nil {
		return nil, apperrors.Conflict(op, "cancellation of order %s was already approved", o.ID)
	}
	if !o.HasPendingCancellationRequest() {
		return nil, apperrors.Conflict(op, "order %s has no pending cancellation request", o.ID)
	}
	if !CanCancelOrder(o.Status) {
		return nil, apperrors.InvalidTransition(op, "order %s cannot be cancelled in status %s", o.ID, o.Status)
	}
	at := now
	o.CancellationApprovedAt = &at
	return o.cancel(now), nil
}

// RejectCancellation closes the pending request; the order keeps its status.
func (o *Order) RejectCancellation(reason string, now time.Time) error {
	const op = "order.reject_cancellation"
	if o.CancellationApprovedAt != nil {
		return apperrors.Conflict(op, "cancellation of order %s was already approved", o.ID)
	}
	if !o.HasPendingCancellationRequest() {
		return apperrors.Conflict(op, "order %s has no pending cancellation request", o.ID)
	}
	if o.Status.IsTerminal() {
		return apperrors.InvalidTransition(op, "order %s is %s and cannot change", o.ID, o.Status)
	}
	at := now
	o.CancellationRejectedAt = &at
	o.CancellationRejectionReason = reason
	o.UpdatedAt = now
	return nil
}

// AdvanceTo applies a direct administrative status change. When the target is cancelled the
// stock lines to release are returned.
func (o *Order) AdvanceTo(target OrderStatus, trackingID *string, now time.Time) ([]StockLine, error) {
	const op = "order.update_status"
	if !target.Valid() {
		return nil, apperrors.Validation(op, "unknown order status %q", target)
	}
	if o.Status.IsTerminal() {
		return nil, apperrors.InvalidTransition(op, "order %s is %s and cannot change", o.ID, o.Status)
	}
	if !CanTransition(o.Status, target) {
		return nil, apperrors.InvalidTransition(op, "cannot move order %s from %s to %s", o.ID, o.Status, target)
	}
	// An unpaid online order waits for the payment webhook; it may only be cancelled.
	if o.PaymentMethod.RequiresPayment() && o.PaidAt == nil && target != StatusCancelled {
		return nil, apperrors.InvalidTransition(op, "order %s is awaiting payment", o.ID)
	}
	if trackingID != nil && *trackingID != "" {
		id := *trackingID
		o.TrackingID = &id
	}
	if target == StatusCancelled {
		if o.HasPendingCancellationRequest() {
			at := now
			o.CancellationApprovedAt = &at
		}
		return o.cancel(now), nil
	}
	o.Status = target
	o.UpdatedAt = now
	return nil, nil
}

// ConfirmPayment moves a pending online order to confirmed and records the provider's
// reference. A repeated confirmation of an already paid order is a no-op and reports changed=false.
func (o *Order) ConfirmPayment(reference string, now time.Time) (bool, error) {
	const op = "order.confirm_payment"
	if !o.PaymentMethod.RequiresPayment() {
		return false, apperrors.InvalidTransition(op, "order %s does not take online payment", o.ID)
	}
	if o.PaidAt != nil {
		return false, nil
	}
	if o.Status != StatusPending {
		return false, apperrors.InvalidTransition(op, "order %s is %s, payment cannot confirm it", o.ID, o.Status)
	}
	at := now
	o.PaidAt = &at
	o.ProviderRef = reference
	o.Status = StatusConfirmed
	o.UpdatedAt = now
	return true, nil
}

// FailPayment cancels a pending online order after a failed payment and returns the stock
// lines to release. Repeated failures on an already cancelled order report changed=false.
func (o *Order) FailPayment(reference string, now time.Time) ([]StockLine, bool, error) {
	const op = "order.fail_payment"
	if !o.PaymentMethod.RequiresPayment() {
		return nil, false, apperrors.InvalidTransition(op, "order %s does not take online payment", o.ID)
	}
	if o.Status == StatusCancelled {
		return nil, false, nil
	}
	if o.Status != StatusPending || o.PaidAt != nil {
		return nil, false, apperrors.InvalidTransition(op, "order %s is %s, payment failure cannot cancel it", o.ID, o.Status)
	}
	o.ProviderRef = reference
	return o.cancel(now), true, nil
}

// OverrideTotal replaces the computed total. This is the only way the total changes after creation.
func (o *Order) OverrideTotal(total decimal.Decimal, reason string, now time.Time) error {
	const op = "order.override_total"
	if total.IsNegative() {
		return apperrors.Validation(op, "total must not be negative")
	}
	if reason == "" {
		return apperrors.Validation(op, "a reason is required to override the total")
	}
	if o.Status == StatusCancelled {
		return apperrors.InvalidTransition(op, "order %s is cancelled", o.ID)
	}
	o.Total = total.Round(2)
	o.TotalOverrideReason = reason
	o.UpdatedAt = now
	return nil
}

func (o *Order) cancel(now time.Time) []StockLine {
	o.Status = StatusCancelled
	o.UpdatedAt = now
	if o.StockReleasedAt != nil {
		return nil
	}
	at := now
	o.StockReleasedAt = &at
	return o.StockLines()
}
