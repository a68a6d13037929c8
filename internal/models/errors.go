package models

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflict")
	ErrConfiguration     = errors.New("configuration error")
	ErrProvider          = errors.New("payment provider error")
	ErrPersistence       = errors.New("persistence error")
)

// Error is a classified failure carrying a customer-safe message
type Error struct {
	Kind    error
	Message string
	OrderID string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error
func NewError(kind error, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Validationf builds an ErrValidation error
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds an ErrNotFound error
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

// WithOrder attaches the id of an order that was created before the failure
func WithOrder(err error, orderID string) error {
	var e *Error
	if errors.As(err, &e) {
		cp := *e
		cp.OrderID = orderID
		return &cp
	}
	return &Error{Kind: ErrPersistence, Message: "unexpected failure", OrderID: orderID, Err: err}
}

// InsufficientStockError names the product and how many units remain
type InsufficientStockError struct {
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: requested %d, available %d", e.ProductName, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Variant-level failures raised by the resolver
var (
	ErrVariantNotFound    = &Error{Kind: ErrNotFound, Message: "variant not found"}
	ErrInvalidPrice       = &Error{Kind: ErrValidation, Message: "product has an invalid price"}
	ErrCrossStoreCheckout = &Error{Kind: ErrValidation, Message: "all items must belong to the same store"}
	ErrEmptyCart          = &Error{Kind: ErrValidation, Message: "cart is empty"}
)
