// Package coupon validates discount codes and computes the discount a
// coupon yields for a given subtotal. Usage accounting lives in the
// store; validation here is free of side effects.
package coupon

import (
	"time"

	"github.com/Omwansam/furniture-backend/internal/errs"
	"github.com/Omwansam/furniture-backend/internal/models"
	"github.com/Omwansam/furniture-backend/internal/money"
)

// Validate checks a coupon against the order subtotal at the given time
// and returns the discount it yields. c may be nil for an unknown code.
func Validate(c *models.Coupon, subtotal money.Money, now time.Time) (money.Money, error) {
	if c == nil || !c.Active {
		return 0, rejection(c, errs.CouponReasonInvalid)
	}

	if now.Before(c.ValidFrom) {
		return 0, rejection(c, errs.CouponReasonNotYetValid)
	}
	if c.ValidTo != nil && now.After(*c.ValidTo) {
		return 0, rejection(c, errs.CouponReasonExpired)
	}

	if c.MinOrderAmount != nil && subtotal < *c.MinOrderAmount {
		return 0, &errs.CouponError{
			CouponCode: c.Code,
			Reason:     errs.CouponReasonMinOrderNotMet,
			MinOrder:   *c.MinOrderAmount,
		}
	}

	if c.UsesRemaining != nil && *c.UsesRemaining <= 0 {
		return 0, rejection(c, errs.CouponReasonExhausted)
	}

	return Discount(c, subtotal), nil
}

// Discount computes the discount amount for an already validated coupon:
// percentage coupons round half away from zero, fixed coupons never
// exceed the subtotal, and both respect the optional cap.
func Discount(c *models.Coupon, subtotal money.Money) money.Money {
	var discount money.Money
	switch c.Kind {
	case models.CouponPercentage:
		discount = subtotal.Percent(int(c.Value))
	case models.CouponFixed:
		discount = money.Min(money.Money(c.Value), subtotal)
	default:
		return 0
	}

	if c.MaxDiscountAmount != nil {
		discount = money.Min(discount, *c.MaxDiscountAmount)
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

func rejection(c *models.Coupon, reason string) *errs.CouponError {
	code := ""
	if c != nil {
		code = c.Code
	}
	return &errs.CouponError{CouponCode: code, Reason: reason}
}
