package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrCartEmpty               = errors.New("cart is empty, nothing to checkout")
	ErrSelfPurchase            = errors.New("cannot purchase your own listing")
	ErrListingNotPurchasable   = errors.New("listing is not available for purchase")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInvalidPersonalization  = errors.New("personalization answers are missing or invalid")
	ErrCurrencyMismatch        = errors.New("cart mixes currencies")
	ErrIllegalTransition       = errors.New("illegal transition of order status")
	ErrOrderNotFound           = errors.New("order not found")
	ErrCartLineNotFound        = errors.New("cart line not found")
	ErrInvalidQuantity         = errors.New("quantity must be between 1 and 99")
	ErrMissingIdempotencyKey   = errors.New("idempotency key is required")
	ErrIdempotencyKeyReused    = errors.New("idempotency key was used for a different buyer")
	ErrOrderNotPayable         = errors.New("order is not awaiting payment")
	ErrPaymentProviderDisabled = errors.New("no payment provider configured")
)

type ViolationKind string

const (
	ViolationNotPurchasable    ViolationKind = "listing_not_purchasable"
	ViolationSelfPurchase      ViolationKind = "self_purchase"
	ViolationInsufficientStock ViolationKind = "insufficient_stock"
	ViolationPersonalization   ViolationKind = "personalization_invalid"
	ViolationCurrencyMismatch  ViolationKind = "currency_mismatch"
)

var violationErrors = map[ViolationKind]error{
	ViolationNotPurchasable:    ErrListingNotPurchasable,
	ViolationSelfPurchase:      ErrSelfPurchase,
	ViolationInsufficientStock: ErrInsufficientStock,
	ViolationPersonalization:   ErrInvalidPersonalization,
	ViolationCurrencyMismatch:  ErrCurrencyMismatch,
}

// InsufficientStockError is returned by the advisory availability check.
type InsufficientStockError struct {
	ListingID uuid.UUID
	VariantID *uuid.UUID
	Requested int32
	Available int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for listing %s: requested %d, available %d", e.ListingID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// LineViolation describes why one cart line cannot be purchased.
type LineViolation struct {
	LineID    uuid.UUID     `json:"line_id"`
	ListingID uuid.UUID     `json:"listing_id"`
	VariantID *uuid.UUID    `json:"variant_id,omitempty"`
	Kind      ViolationKind `json:"kind"`
	Message   string        `json:"message"`
	Requested int32         `json:"requested"`
	// Available is set for stock violations only.
	Available *int32 `json:"available,omitempty"`
}

func (v LineViolation) Error() string {
	return fmt.Sprintf("line %s: %s", v.LineID, v.Message)
}

func (v LineViolation) Unwrap() error {
	return violationErrors[v.Kind]
}

// ValidationError aggregates every violation found in a cart so the buyer can fix them in one pass.
type ValidationError struct {
	Violations []LineViolation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Error()
	}
	return "cart validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() []error {
	errs := make([]error, len(e.Violations))
	for i, v := range e.Violations {
		errs[i] = v
	}
	return errs
}

// StockConflictError means a payment was confirmed for stock that no longer exists.
// The order is recorded as paid and flagged for manual reconciliation.
type StockConflictError struct {
	OrderID          uuid.UUID
	OrderNumber      string
	ListingID        uuid.UUID
	VariantID        *uuid.UUID
	Quantity         int32
	PaymentReference string
	Err              error
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("stock conflict after payment for order %s (listing %s, quantity %d): %v",
		e.OrderNumber, e.ListingID, e.Quantity, e.Err)
}

func (e *StockConflictError) Unwrap() error {
	return e.Err
}
