package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so that callers can react to it without parsing messages.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindNotFound          Kind = "not_found"
	KindInsufficientStock Kind = "insufficient_stock"
	KindDiscountRejected  Kind = "discount_rejected"
	KindInvalidTransition Kind = "invalid_transition"
	KindUnauthorized      Kind = "unauthorized"
	KindConflict          Kind = "conflict"
	KindTransient         Kind = "transient"
)

// DiscountReason explains why a discount code was refused.
type DiscountReason string

const (
	ReasonNotFound       DiscountReason = "not_found"
	ReasonInactive       DiscountReason = "inactive"
	ReasonExpired        DiscountReason = "expired"
	ReasonBelowMinimum   DiscountReason = "below_minimum"
	ReasonUsageExhausted DiscountReason = "usage_exhausted"
	ReasonAlreadyUsed    DiscountReason = "already_used"
)

// Error is the structured error returned across service boundaries.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	Reason     DiscountReason
	ProductIDs []string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error of the same kind (and reason, when set).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Sentinels usable with errors.Is.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrDiscountRejected  = &Error{Kind: KindDiscountRejected}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrTransient         = &Error{Kind: KindTransient}
)

// New builds an error of the given kind.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(op, format string, args ...any) *Error {
	return New(KindValidation, op, format, args...)
}

func NotFound(op, format string, args ...any) *Error {
	return New(KindNotFound, op, format, args...)
}

func InvalidTransition(op, format string, args ...any) *Error {
	return New(KindInvalidTransition, op, format, args...)
}

func Conflict(op, format string, args ...any) *Error {
	return New(KindConflict, op, format, args...)
}

func Unauthorized(op, format string, args ...any) *Error {
	return New(KindUnauthorized, op, format, args...)
}

// InsufficientStock names every product that could not cover the requested quantity.
func InsufficientStock(op string, productIDs []string) *Error {
	ids := append([]string(nil), productIDs...)
	return &Error{
		Kind:       KindInsufficientStock,
		Op:         op,
		Message:    "insufficient stock for products " + strings.Join(ids, ", "),
		ProductIDs: ids,
	}
}

// DiscountRejected reports a refused discount with its sub-reason.
func DiscountRejected(op string, reason DiscountReason, format string, args ...any) *Error {
	return &Error{
		Kind:    KindDiscountRejected,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Reason:  reason,
	}
}

// DiscountRejectedReason is a sentinel matching a discount rejection with a specific reason.
func DiscountRejectedReason(reason DiscountReason) *Error {
	return &Error{Kind: KindDiscountRejected, Reason: reason}
}

// KindOf returns the kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// As extracts the *Error from err.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
