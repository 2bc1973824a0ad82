package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Omwansam/furniture-backend/internal/errs"
	"github.com/Omwansam/furniture-backend/internal/models"
)

// GetCoupon retrieves a coupon by code without locking. Used for
// validation during pricing; the authoritative usage decrement happens
// under CommitCouponUsage's row lock.
func (s *Store) GetCoupon(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := s.db.GetContext(ctx, &coupon, "SELECT * FROM coupons WHERE code = $1", code)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// CommitCouponUsage decrements uses_remaining under a row-level lock and
// deactivates the coupon when it reaches zero. Runs inside the checkout
// transaction so a concurrent checkout racing for the last use aborts
// with a CouponError instead of committing an unearned discount.
func (s *Store) CommitCouponUsage(ctx context.Context, tx *sqlx.Tx, code string) error {
	var coupon models.Coupon
	err := tx.GetContext(ctx, &coupon, "SELECT * FROM coupons WHERE code = $1 FOR UPDATE", code)
	if isNoRows(err) {
		return &errs.CouponError{CouponCode: code, Reason: errs.CouponReasonInvalid}
	}
	if err != nil {
		return fmt.Errorf("failed to lock coupon %q: %w", code, err)
	}

	if coupon.UsesRemaining == nil {
		return nil // unlimited coupon, nothing to account
	}
	if *coupon.UsesRemaining <= 0 {
		return &errs.CouponError{CouponCode: code, Reason: errs.CouponReasonExhausted}
	}

	remaining := *coupon.UsesRemaining - 1
	active := coupon.Active && remaining > 0

	_, err = tx.ExecContext(ctx,
		"UPDATE coupons SET uses_remaining = $1, active = $2 WHERE code = $3",
		remaining, active, code)
	return err
}
