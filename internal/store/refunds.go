package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Omwansam/furniture-backend/internal/errs"
	"github.com/Omwansam/furniture-backend/internal/models"
)

// CreateRefund inserts a return request. The unique constraint on
// order_id enforces at most one refund per order; a violation surfaces as
// ErrRefundExists.
func (s *Store) CreateRefund(ctx context.Context, tx *sqlx.Tx, refund *models.Refund) error {
	query := `
		INSERT INTO refunds (order_id, user_id, reason, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, requested_at`

	err := tx.GetContext(ctx, refund, query,
		refund.OrderID, refund.UserID, refund.Reason, refund.Status)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return errs.ErrRefundExists
	}
	return err
}

// GetRefundByID retrieves a refund by ID
func (s *Store) GetRefundByID(ctx context.Context, id int64) (*models.Refund, error) {
	var refund models.Refund
	err := s.db.GetContext(ctx, &refund, "SELECT * FROM refunds WHERE id = $1", id)
	if isNoRows(err) {
		return nil, errs.New(errs.NotFound, "REFUND_NOT_FOUND", fmt.Sprintf("refund not found: %d", id))
	}
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

// GetRefundForUpdate locks and retrieves a refund inside a transaction.
func (s *Store) GetRefundForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Refund, error) {
	var refund models.Refund
	err := tx.GetContext(ctx, &refund, "SELECT * FROM refunds WHERE id = $1 FOR UPDATE", id)
	if isNoRows(err) {
		return nil, errs.New(errs.NotFound, "REFUND_NOT_FOUND", fmt.Sprintf("refund not found: %d", id))
	}
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

// GetRefundByOrderID retrieves the refund of an order, nil when none
// exists.
func (s *Store) GetRefundByOrderID(ctx context.Context, orderID int64) (*models.Refund, error) {
	var refund models.Refund
	err := s.db.GetContext(ctx, &refund, "SELECT * FROM refunds WHERE order_id = $1", orderID)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

// TransitionRefund moves a refund to a new status, rejecting illegal
// transitions, with optional admin notes and processing timestamp. A nil
// notes or processedAt leaves the stored value untouched; only the
// terminal processed step carries a processing timestamp.
func (s *Store) TransitionRefund(ctx context.Context, tx *sqlx.Tx, refund *models.Refund, to models.RefundStatus, notes *string, processedAt *time.Time) error {
	if !refund.Status.CanTransition(to) {
		return errs.New(errs.BusinessRule, "ILLEGAL_TRANSITION",
			fmt.Sprintf("refund %d cannot move from %s to %s", refund.ID, refund.Status, to))
	}

	_, err := tx.ExecContext(ctx,
		"UPDATE refunds SET status = $1, admin_notes = COALESCE($2, admin_notes), processed_at = COALESCE($3, processed_at) WHERE id = $4",
		to, notes, processedAt, refund.ID)
	if err != nil {
		return err
	}
	refund.Status = to
	if notes != nil {
		refund.AdminNotes = notes
	}
	if processedAt != nil {
		refund.ProcessedAt = processedAt
	}
	return nil
}
