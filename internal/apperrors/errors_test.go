package apperrors_test

import (
	"errors"
	"fmt"
	"testing"

	"farmmarket/internal/apperrors"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("checkout: %w", apperrors.Conflict("order.approve", "already approved"))

	assert.True(t, errors.Is(err, apperrors.ErrConflict))
	assert.False(t, errors.Is(err, apperrors.ErrInvalidTransition))
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
}

func TestDiscountRejectedMatchesReason(t *testing.T) {
	err := apperrors.DiscountRejected("discount.validate", apperrors.ReasonExpired, "code %s expired", "SPRING")

	assert.True(t, errors.Is(err, apperrors.ErrDiscountRejected))
	assert.True(t, errors.Is(err, apperrors.DiscountRejectedReason(apperrors.ReasonExpired)))
	assert.False(t, errors.Is(err, apperrors.DiscountRejectedReason(apperrors.ReasonBelowMinimum)))
	assert.Equal(t, "discount.validate: code SPRING expired", err.Error())
}

func TestInsufficientStockNamesProducts(t *testing.T) {
	err := apperrors.InsufficientStock("stock.reserve", []string{"p-1", "p-2"})

	appErr, ok := apperrors.As(err)
	assert.True(t, ok)
	assert.Equal(t, []string{"p-1", "p-2"}, appErr.ProductIDs)
	assert.Contains(t, err.Error(), "p-1, p-2")
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := apperrors.Wrap(apperrors.KindTransient, "order.save", cause, "storage unavailable")

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, apperrors.ErrTransient)
}
