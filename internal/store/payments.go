package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Omwansam/furniture-backend/internal/errs"
	"github.com/Omwansam/furniture-backend/internal/models"
)

// CreatePayment inserts the pending payment row inside the checkout
// transaction. ExternalTxnID starts as a placeholder and is replaced once
// the STK push returns the provider's checkout request id.
func (s *Store) CreatePayment(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, user_id, amount, external_txn_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	return tx.GetContext(ctx, payment, query,
		payment.OrderID, payment.UserID, payment.Amount, payment.ExternalTxnID, payment.Status)
}

// GetPaymentByOrderID retrieves the payment of an order
func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment, "SELECT * FROM payments WHERE order_id = $1", orderID)
	if isNoRows(err) {
		return nil, errs.New(errs.NotFound, "PAYMENT_NOT_FOUND", fmt.Sprintf("payment not found for order: %d", orderID))
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByExternalID retrieves a payment by the provider's checkout
// request id. Returns nil without error when no payment matches, so the
// caller can dead-letter the callback.
func (s *Store) GetPaymentByExternalID(ctx context.Context, checkoutRequestID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment, "SELECT * FROM payments WHERE external_txn_id = $1", checkoutRequestID)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentForUpdate locks and retrieves a payment by external id inside
// a transaction, serializing concurrent callback deliveries.
func (s *Store) GetPaymentForUpdate(ctx context.Context, tx *sqlx.Tx, checkoutRequestID string) (*models.Payment, error) {
	var payment models.Payment
	err := tx.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE external_txn_id = $1 FOR UPDATE", checkoutRequestID)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByOrderForUpdate locks and retrieves the payment of an order
// inside a transaction.
func (s *Store) GetPaymentByOrderForUpdate(ctx context.Context, tx *sqlx.Tx, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := tx.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE order_id = $1 FOR UPDATE", orderID)
	if isNoRows(err) {
		return nil, errs.New(errs.NotFound, "PAYMENT_NOT_FOUND", fmt.Sprintf("payment not found for order: %d", orderID))
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByIDForUpdate locks and retrieves a payment by primary key
// inside a transaction. Used by the sweeper.
func (s *Store) GetPaymentByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Payment, error) {
	var payment models.Payment
	err := tx.GetContext(ctx, &payment, "SELECT * FROM payments WHERE id = $1 FOR UPDATE", id)
	if isNoRows(err) {
		return nil, errs.New(errs.NotFound, "PAYMENT_NOT_FOUND", fmt.Sprintf("payment not found: %d", id))
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// SetPaymentExternalID stores the provider correlation id after a
// successful STK push initiation. Runs inside the initiation transaction
// so the correlation id and the attempt row land together.
func (s *Store) SetPaymentExternalID(ctx context.Context, tx *sqlx.Tx, paymentID int64, externalTxnID string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE payments SET external_txn_id = $1 WHERE id = $2",
		externalTxnID, paymentID)
	return err
}

// TransitionPaymentStatus moves a payment to a new status, rejecting
// illegal transitions. settledAt is recorded for completed payments; a
// nil settledAt leaves any existing settlement timestamp untouched so
// the refund path does not erase when the money actually moved.
func (s *Store) TransitionPaymentStatus(ctx context.Context, tx *sqlx.Tx, payment *models.Payment, to models.PaymentStatus, settledAt *time.Time) error {
	if !payment.Status.CanTransition(to) {
		return errs.New(errs.BusinessRule, "ILLEGAL_TRANSITION",
			fmt.Sprintf("payment %d cannot move from %s to %s", payment.ID, payment.Status, to))
	}

	_, err := tx.ExecContext(ctx,
		"UPDATE payments SET status = $1, settled_at = COALESCE($2, settled_at) WHERE id = $3",
		to, settledAt, payment.ID)
	if err != nil {
		return err
	}
	payment.Status = to
	if settledAt != nil {
		payment.SettledAt = settledAt
	}
	return nil
}

// MarkPaymentFailed records a post-commit initiation failure outside any
// larger transaction.
func (s *Store) MarkPaymentFailed(ctx context.Context, paymentID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE payments SET status = $1 WHERE id = $2 AND status = $3",
		models.PaymentFailed, paymentID, models.PaymentPending)
	return err
}

// InsertPaymentEvent appends one immutable payment event row.
func (s *Store) InsertPaymentEvent(ctx context.Context, tx *sqlx.Tx, event *models.PaymentEvent) error {
	query := `
		INSERT INTO payment_events (payment_id, received_at, result_code, result_description, merchant_request_id, checkout_request_id, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	return tx.GetContext(ctx, &event.ID, query,
		event.PaymentID, event.ReceivedAt, event.ResultCode, event.ResultDescription,
		event.MerchantRequestID, event.CheckoutRequestID, event.RawPayload)
}

// AppendPaymentEvent appends an event in its own short transaction, for
// paths not already inside one.
func (s *Store) AppendPaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.InsertPaymentEvent(ctx, tx, event)
	})
}

// CreateTransaction records one STK push attempt. The merchant request
// id is unique, so a duplicate attempt row surfaces as a constraint
// violation instead of a silent second insert.
func (s *Store) CreateTransaction(ctx context.Context, tx *sqlx.Tx, txn *models.Transaction) error {
	query := `
		INSERT INTO transactions (payment_id, merchant_request_id, amount, phone, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	return tx.GetContext(ctx, txn, query,
		txn.PaymentID, txn.MerchantRequestID, txn.Amount, txn.Phone, txn.Status)
}

// SettleTransaction stores the provider receipt and final status for the
// attempt matching the merchant request id.
func (s *Store) SettleTransaction(ctx context.Context, tx *sqlx.Tx, merchantRequestID, status string, receipt *string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE transactions SET status = $1, provider_receipt = $2 WHERE merchant_request_id = $3",
		status, receipt, merchantRequestID)
	return err
}

// InsertUnmatchedCallback dead-letters a callback whose checkout request
// id matches no payment. Never dropped; an operator reconciles later.
func (s *Store) InsertUnmatchedCallback(ctx context.Context, checkoutRequestID string, rawPayload []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO unmatched_callbacks (checkout_request_id, raw_payload, received_at) VALUES ($1, $2, NOW())",
		checkoutRequestID, rawPayload)
	return err
}

// ListExpiredPendingPayments returns payments still pending after the
// given cutoff, for the sweeper. A payment with a push attempt newer
// than the cutoff is not expired: re-initiation reopens payments, and
// the expiry window restarts with each attempt.
func (s *Store) ListExpiredPendingPayments(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments, `
		SELECT * FROM payments p
		WHERE p.status = $1 AND p.created_at < $2
		  AND NOT EXISTS (
			SELECT 1 FROM transactions t
			WHERE t.payment_id = p.id AND t.created_at >= $2
		  )
		ORDER BY p.created_at LIMIT $3`,
		models.PaymentPending, cutoff, limit)
	return payments, err
}
