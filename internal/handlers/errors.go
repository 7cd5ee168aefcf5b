package handlers

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"farmmarket/internal/apperrors"
)

var kindStatus = map[apperrors.Kind]int{
	apperrors.KindValidation:        fiber.StatusBadRequest,
	apperrors.KindNotFound:          fiber.StatusNotFound,
	apperrors.KindUnauthorized:      fiber.StatusForbidden,
	apperrors.KindInsufficientStock: fiber.StatusConflict,
	apperrors.KindInvalidTransition: fiber.StatusConflict,
	apperrors.KindConflict:          fiber.StatusConflict,
	apperrors.KindDiscountRejected:  fiber.StatusUnprocessableEntity,
	apperrors.KindTransient:         fiber.StatusServiceUnavailable,
}

// StatusFor maps an error to the HTTP status a client sees.
func StatusFor(err error) int {
	if status, ok := kindStatus[apperrors.KindOf(err)]; ok {
		return status
	}
	return fiber.StatusInternalServerError
}

// errorResponse writes err as JSON. Structured errors keep their kind and details so clients
// can tell which product ran out or why a discount was refused.
func errorResponse(c *fiber.Ctx, logger *zap.Logger, message string, err error) error {
	status := StatusFor(err)
	body := fiber.Map{
		"message": message,
		"error":   err.Error(),
	}
	if appErr, ok := apperrors.As(err); ok {
		body["kind"] = appErr.Kind
		if appErr.Reason != "" {
			body["reason"] = appErr.Reason
		}
		if len(appErr.ProductIDs) > 0 {
			body["product_ids"] = appErr.ProductIDs
		}
	}
	if status >= fiber.StatusInternalServerError {
		logger.Error(message, zap.Error(err), zap.String("path", c.Path()))
	} else {
		logger.Debug(message, zap.Error(err), zap.String("path", c.Path()))
	}
	return c.Status(status).JSON(body)
}

func invalidBody(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"message": "Invalid request body",
		"error":   err.Error(),
	})
}

// validateStruct runs validator tags on req and writes a per-field error map on failure.
// It returns true when the request may proceed.
func validateStruct(c *fiber.Ctx, validate *validator.Validate, req any) (bool, error) {
	err := validate.Struct(req)
	if err == nil {
		return true, nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Validation failed",
			"error":   err.Error(),
		})
	}
	errorMessages := make(map[string]string)
	for _, e := range validationErrors {
		errorMessages[e.Field()] = fmt.Sprintf("Field '%s' failed on the '%s' tag", e.Field(), e.Tag())
	}
	return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"message": "Validation failed",
		"kind":    apperrors.KindValidation,
		"errors":  errorMessages,
	})
}

func ok(c *fiber.Ctx, extra fiber.Map) error {
	body := fiber.Map{"ok": true}
	for k, v := range extra {
		body[k] = v
	}
	return c.JSON(body)
}
