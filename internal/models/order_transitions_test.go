package models_test

import (
	"testing"
	"time"

	"farmmarket/internal/apperrors"
	"farmmarket/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newOrder(status models.OrderStatus) *models.Order {
	return &models.Order{
		ID:            "order-1",
		Status:        status,
		PaymentMethod: models.PaymentCOD,
		Items: []models.OrderItem{
			{ProductID: "tomato", Quantity: 3, UnitPrice: decimal.NewFromInt(40)},
			{ProductID: "okra", Quantity: 1, UnitPrice: decimal.NewFromInt(25)},
		},
	}
}

func TestCanCancelOrder(t *testing.T) {
	cases := map[models.OrderStatus]bool{
		models.StatusPending:    true,
		models.StatusConfirmed:  true,
		models.StatusProcessing: true,
		models.StatusShipped:    false,
		models.StatusDelivered:  false,
		models.StatusCancelled:  false,
	}
	for status, want := range cases {
		assert.Equal(t, want, models.CanCancelOrder(status), status)
	}
}

func TestAdvanceTo_TransitionTable(t *testing.T) {
	all := []models.OrderStatus{
		models.StatusPending, models.StatusConfirmed, models.StatusProcessing,
		models.StatusShipped, models.StatusDelivered, models.StatusCancelled,
	}
	allowed := map[[2]models.OrderStatus]bool{
		{models.StatusPending, models.StatusProcessing}:    true,
		{models.StatusPending, models.StatusCancelled}:     true,
		{models.StatusConfirmed, models.StatusProcessing}:  true,
		{models.StatusConfirmed, models.StatusCancelled}:   true,
		{models.StatusProcessing, models.StatusShipped}:    true,
		{models.StatusProcessing, models.StatusCancelled}:  true,
		{models.StatusShipped, models.StatusDelivered}:     true,
	}

	for _, from := range all {
		for _, to := range all {
			order := newOrder(from)
			_, err := order.AdvanceTo(to, nil, now)
			if allowed[[2]models.OrderStatus{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, order.Status)
				continue
			}
			assert.ErrorIs(t, err, apperrors.ErrInvalidTransition, "%s -> %s", from, to)
			assert.Equal(t, from, order.Status, "state must be unchanged after %s -> %s", from, to)
		}
	}
}

func TestAdvanceTo_RejectsUnknownStatus(t *testing.T) {
	order := newOrder(models.StatusPending)
	_, err := order.AdvanceTo("teleported", nil, now)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestAdvanceTo_CancelReleasesStockOnce(t *testing.T) {
	order := newOrder(models.StatusProcessing)

	lines, err := order.AdvanceTo(models.StatusCancelled, nil, now)
	require.NoError(t, err)
	assert.Equal(t, []models.StockLine{{ProductID: "tomato", Quantity: 3}, {ProductID: "okra", Quantity: 1}}, lines)
	require.NotNil(t, order.StockReleasedAt)

	_, err = order.AdvanceTo(models.StatusCancelled, nil, now)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestAdvanceTo_SetsTrackingID(t *testing.T) {
	order := newOrder(models.StatusProcessing)
	assert.Equal(t, models.UnassignedTracking, order.TrackingLabel())

	tracking := "TRK-991"
	_, err := order.AdvanceTo(models.StatusShipped, &tracking, now)
	require.NoError(t, err)
	assert.Equal(t, "TRK-991", order.TrackingLabel())
}

func TestRequestCancellation(t *testing.T) {
	order := newOrder(models.StatusConfirmed)

	require.NoError(t, order.RequestCancellation("ordered twice", now))
	assert.Equal(t, models.StatusConfirmed, order.Status, "a request does not change status")
	assert.True(t, order.HasPendingCancellationRequest())

	err := order.RequestCancellation("again", now)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, "ordered twice", order.CancellationRequestReason)
}

func TestRequestCancellation_ShippedOrDelivered(t *testing.T) {
	for _, status := range []models.OrderStatus{models.StatusShipped, models.StatusDelivered, models.StatusCancelled} {
		order := newOrder(status)
		err := order.RequestCancellation("too late", now)
		assert.ErrorIs(t, err, apperrors.ErrInvalidTransition, status)
		assert.Nil(t, order.CancellationRequestedAt)
	}
}

func TestApproveCancellation(t *testing.T) {
	order := newOrder(models.StatusPending)
	require.NoError(t, order.RequestCancellation("changed my mind", now))

	lines, err := order.ApproveCancellation(now)
	require.NoError(t, err)
	assert.Len(t, lines, 2)
	assert.Equal(t, models.StatusCancelled, order.Status)
	assert.NotNil(t, order.CancellationApprovedAt)

	_, err = order.ApproveCancellation(now)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestApproveCancellation_WithoutRequest(t *testing.T) {
	order := newOrder(models.StatusPending)
	_, err := order.ApproveCancellation(now)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, models.StatusPending, order.Status)
}

func TestApproveCancellation_AfterShipping(t *testing.T) {
	order := newOrder(models.StatusProcessing)
	require.NoError(t, order.RequestCancellation("late", now))
	_, err := order.AdvanceTo(models.StatusShipped, nil, now)
	require.NoError(t, err)

	_, err = order.ApproveCancellation(now)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Equal(t, models.StatusShipped, order.Status)
	assert.Nil(t, order.StockReleasedAt)
}

func TestRejectCancellation_AllowsNewRequest(t *testing.T) {
	order := newOrder(models.StatusProcessing)
	require.NoError(t, order.RequestCancellation("first", now))
	require.NoError(t, order.RejectCancellation("already packed", now))

	assert.Equal(t, models.StatusProcessing, order.Status)
	assert.False(t, order.HasPendingCancellationRequest())
	assert.Equal(t, "already packed", order.CancellationRejectionReason)

	err := order.RejectCancellation("twice", now)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	require.NoError(t, order.RequestCancellation("second", now.Add(time.Hour)))
	assert.True(t, order.HasPendingCancellationRequest())
	assert.Nil(t, order.CancellationRejectedAt)
}

func TestRejectCancellation_TerminalOrder(t *testing.T) {
	order := newOrder(models.StatusProcessing)
	require.NoError(t, order.RequestCancellation("wrong address", now))
	_, err := order.AdvanceTo(models.StatusShipped, nil, now)
	require.NoError(t, err)
	_, err = order.AdvanceTo(models.StatusDelivered, nil, now)
	require.NoError(t, err)

	err = order.RejectCancellation("already delivered", now)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Nil(t, order.CancellationRejectedAt)
	assert.Empty(t, order.CancellationRejectionReason)
}

func TestAdvanceTo_CancelApprovesPendingRequest(t *testing.T) {
	order := newOrder(models.StatusConfirmed)
	require.NoError(t, order.RequestCancellation("duplicate order", now))

	_, err := order.AdvanceTo(models.StatusCancelled, nil, now)
	require.NoError(t, err)
	assert.NotNil(t, order.CancellationApprovedAt)
	assert.False(t, order.HasPendingCancellationRequest())
}

func TestConfirmPayment(t *testing.T) {
	order := newOrder(models.StatusPending)
	order.PaymentMethod = models.PaymentOnline

	order.PaymentRef = "01HQREF"

	changed, err := order.ConfirmPayment("pay_1", now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.StatusConfirmed, order.Status)
	assert.Equal(t, "01HQREF", order.PaymentRef, "the checkout reference is kept")
	assert.Equal(t, "pay_1", order.ProviderRef)

	changed, err = order.ConfirmPayment("pay_1", now)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestAdvanceTo_UnpaidOnlineOrderWaitsForPayment(t *testing.T) {
	order := newOrder(models.StatusPending)
	order.PaymentMethod = models.PaymentOnline

	_, err := order.AdvanceTo(models.StatusProcessing, nil, now)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Equal(t, models.StatusPending, order.Status)

	changed, err := order.ConfirmPayment("pay_9", now)
	require.NoError(t, err)
	assert.True(t, changed)

	_, err = order.AdvanceTo(models.StatusProcessing, nil, now)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, order.Status)

	unpaid := newOrder(models.StatusPending)
	unpaid.PaymentMethod = models.PaymentOnline
	lines, err := unpaid.AdvanceTo(models.StatusCancelled, nil, now)
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}

func TestConfirmPayment_CODOrderRejected(t *testing.T) {
	order := newOrder(models.StatusConfirmed)
	_, err := order.ConfirmPayment("pay_1", now)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestFailPayment(t *testing.T) {
	order := newOrder(models.StatusPending)
	order.PaymentMethod = models.PaymentOnline

	lines, changed, err := order.FailPayment("pay_2", now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, lines, 2)
	assert.Equal(t, models.StatusCancelled, order.Status)

	lines, changed, err = order.FailPayment("pay_2", now)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, lines)
}

func TestOverrideTotal(t *testing.T) {
	order := newOrder(models.StatusConfirmed)
	order.Total = decimal.NewFromInt(145)

	err := order.OverrideTotal(decimal.NewFromInt(-1), "refund", now)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	err = order.OverrideTotal(decimal.NewFromInt(100), "", now)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	require.NoError(t, order.OverrideTotal(decimal.RequireFromString("99.999"), "bruised produce", now))
	assert.True(t, decimal.NewFromInt(100).Equal(order.Total))
}

func TestOrderOwnership(t *testing.T) {
	userID := "user-1"
	order := newOrder(models.StatusPending)
	order.UserID = &userID
	assert.True(t, order.OwnedBy("user-1", ""))
	assert.False(t, order.OwnedBy("user-2", ""))

	guest := newOrder(models.StatusPending)
	guest.SessionID = "sess-9"
	assert.True(t, guest.OwnedBy("", "sess-9"))
	assert.False(t, guest.OwnedBy("", ""))
}
