package errs

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Omwansam/furniture-backend/internal/money"
)

// Kind classifies an error into the closed taxonomy used across the core.
type Kind int

const (
	// Validation covers malformed input: bad phone, bad amount, bad body.
	Validation Kind = iota
	// BusinessRule covers domain rejections: empty cart, stock shortfall,
	// invalid coupon, already paid, illegal status transition.
	BusinessRule
	// NotFound covers missing entities.
	NotFound
	// Conflict covers updates lost to a competing transaction.
	Conflict
	// ExternalUnavailable covers provider network errors and 5xx replies.
	ExternalUnavailable
	// Integrity covers states that should be impossible: callback amount
	// mismatch, negative totals. These are logged loud.
	Integrity
)

// Error is a classified error with a stable machine-readable code.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Wrap builds a classified error around a cause.
func Wrap(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg, Err: err}
}

// Common sentinel errors.
var (
	ErrEmptyCart     = New(BusinessRule, "EMPTY_CART", "cart is empty")
	ErrAlreadyPaid   = New(BusinessRule, "ALREADY_PAID", "order is already paid")
	ErrRefundExists  = New(BusinessRule, "REFUND_EXISTS", "a refund already exists for this order")
	ErrInvalidPhone  = New(Validation, "INVALID_PHONE", "phone number is not a valid mobile number")
	ErrOrderNotFound = New(NotFound, "ORDER_NOT_FOUND", "order not found")
)

// InsufficientStockError reports a single cart line that cannot be
// fulfilled. A checkout collects one per short line.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// StockUnavailableError aggregates all short lines of a checkout attempt.
type StockUnavailableError struct {
	Lines []InsufficientStockError
}

func (e *StockUnavailableError) Error() string {
	return fmt.Sprintf("stock unavailable for %d line(s)", len(e.Lines))
}

// CouponError reports why a coupon was rejected.
type CouponError struct {
	CouponCode string
	Reason     string
	MinOrder   money.Money
}

func (e *CouponError) Error() string {
	return fmt.Sprintf("coupon %q rejected: %s", e.CouponCode, e.Reason)
}

// Coupon rejection reasons.
const (
	CouponReasonInvalid        = "invalid_coupon"
	CouponReasonNotYetValid    = "not_yet_valid"
	CouponReasonExpired        = "expired"
	CouponReasonMinOrderNotMet = "min_order_not_met"
	CouponReasonExhausted      = "usage_exhausted"
)

// KindOf extracts the taxonomy kind from err, defaulting to Integrity for
// unclassified errors so that bugs fail loud rather than quiet.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	var stock *StockUnavailableError
	if errors.As(err, &stock) {
		return BusinessRule, true
	}
	var coupon *CouponError
	if errors.As(err, &coupon) {
		return BusinessRule, true
	}
	return Integrity, false
}

// HTTPStatus maps an error to the status code the API layer should return.
func HTTPStatus(err error) int {
	kind, ok := KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case Validation:
		return http.StatusBadRequest
	case BusinessRule:
		return http.StatusUnprocessableEntity
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case ExternalUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
