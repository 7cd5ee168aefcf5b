package handlers_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"farmmarket/internal/apperrors"
	"farmmarket/internal/handlers"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.Validation("op", "bad"), http.StatusBadRequest},
		{apperrors.NotFound("op", "gone"), http.StatusNotFound},
		{apperrors.Unauthorized("op", "no"), http.StatusForbidden},
		{apperrors.InsufficientStock("op", []string{"p1"}), http.StatusConflict},
		{apperrors.InvalidTransition("op", "no"), http.StatusConflict},
		{apperrors.Conflict("op", "twice"), http.StatusConflict},
		{apperrors.DiscountRejected("op", apperrors.ReasonExpired, "expired"), http.StatusUnprocessableEntity},
		{apperrors.Wrap(apperrors.KindTransient, "tx", errors.New("busy"), "retry"), http.StatusServiceUnavailable},
		{fmt.Errorf("wrapped: %w", apperrors.NotFound("op", "gone")), http.StatusNotFound},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, handlers.StatusFor(tt.err), tt.err.Error())
	}
}
