package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Omwansam/furniture-backend/internal/errs"
	"github.com/Omwansam/furniture-backend/internal/models"
	"github.com/Omwansam/furniture-backend/internal/money"
)

// testStore connects to the database named by TEST_DATABASE_URL. The
// schema from db/schema.sql must be applied.
func testStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	s, err := NewStore(url)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestProduct(t *testing.T, s *Store, price money.Money, stock int) int64 {
	t.Helper()

	var id int64
	err := s.db.Get(&id, `
		INSERT INTO products (name, unit_price, stock)
		VALUES ('test sofa', $1, $2)
		RETURNING id`, price, stock)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.db.Exec("DELETE FROM products WHERE id = $1", id)
	})
	return id
}

func TestReserveStockAllOrNothing(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	okID := createTestProduct(t, s, 10000, 5)
	shortID := createTestProduct(t, s, 20000, 1)

	lines := []models.CartLine{
		{ProductID: okID, Quantity: 2, UnitPrice: 10000},
		{ProductID: shortID, Quantity: 3, UnitPrice: 20000},
	}

	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.ReserveStock(ctx, tx, lines)
	})
	require.Error(t, err)

	var stockErr *errs.StockUnavailableError
	require.True(t, errors.As(err, &stockErr))
	require.Len(t, stockErr.Lines, 1)
	assert.Equal(t, shortID, stockErr.Lines[0].ProductID)
	assert.Equal(t, 3, stockErr.Lines[0].Requested)
	assert.Equal(t, 1, stockErr.Lines[0].Available)

	// the passing line was not decremented
	product, err := s.GetProductByID(ctx, okID)
	require.NoError(t, err)
	assert.Equal(t, 5, product.Stock)
}

func TestReserveAndReleaseStock(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id := createTestProduct(t, s, 10000, 5)
	lines := []models.CartLine{{ProductID: id, Quantity: 3, UnitPrice: 10000}}

	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.ReserveStock(ctx, tx, lines)
	})
	require.NoError(t, err)

	product, err := s.GetProductByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, product.Stock)

	items := []models.OrderItem{{ProductID: id, Quantity: 3}}
	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.ReleaseStock(ctx, tx, items)
	})
	require.NoError(t, err)

	product, err = s.GetProductByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, product.Stock)
}

func TestCommitCouponUsage(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.db.Exec(`
		INSERT INTO coupons (code, kind, value, active, uses_remaining)
		VALUES ('LASTONE', 'fixed', 500, true, 1)`)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.db.Exec("DELETE FROM coupons WHERE code = 'LASTONE'")
	})

	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.CommitCouponUsage(ctx, tx, "LASTONE")
	})
	require.NoError(t, err)

	// the last use deactivates the coupon
	coupon, err := s.GetCoupon(ctx, "LASTONE")
	require.NoError(t, err)
	require.NotNil(t, coupon)
	assert.False(t, coupon.Active)
	require.NotNil(t, coupon.UsesRemaining)
	assert.Equal(t, 0, *coupon.UsesRemaining)

	// a second commit is rejected
	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.CommitCouponUsage(ctx, tx, "LASTONE")
	})
	var couponErr *errs.CouponError
	require.True(t, errors.As(err, &couponErr))
	assert.Equal(t, errs.CouponReasonExhausted, couponErr.Reason)
}

func createTestOrder(t *testing.T, s *Store, status models.OrderStatus) *models.Order {
	t.Helper()

	order := &models.Order{
		UserID:          1,
		Status:          models.OrderPending,
		ShippingAddress: "1 Moi Avenue, Nairobi",
		Subtotal:        10000,
		ShippingCost:    700,
		Total:           10700,
	}
	err := s.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		return s.CreateOrder(context.Background(), tx, order)
	})
	require.NoError(t, err)
	if status != models.OrderPending {
		_, err = s.db.Exec("UPDATE orders SET status = $1 WHERE id = $2", status, order.ID)
		require.NoError(t, err)
		order.Status = status
	}
	t.Cleanup(func() {
		s.db.Exec("DELETE FROM orders WHERE id = $1", order.ID)
	})
	return order
}

func TestTransitionPaymentStatusPreservesSettledAt(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	order := createTestOrder(t, s, models.OrderPending)
	payment := &models.Payment{
		OrderID:       order.ID,
		UserID:        order.UserID,
		Amount:        order.Total,
		ExternalTxnID: "ws_CO_settle_test",
		Status:        models.PaymentPending,
	}
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.CreatePayment(ctx, tx, payment)
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		s.db.Exec("DELETE FROM payments WHERE id = $1", payment.ID)
	})

	settled := time.Now()
	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.TransitionPaymentStatus(ctx, tx, payment, models.PaymentCompleted, &settled)
	})
	require.NoError(t, err)

	// the refund transition passes no timestamp; the settlement time of
	// the original charge must survive it
	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.TransitionPaymentStatus(ctx, tx, payment, models.PaymentRefunded, nil)
	})
	require.NoError(t, err)

	got, err := s.GetPaymentByOrderID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, got.Status)
	require.NotNil(t, got.SettledAt)
	assert.WithinDuration(t, settled, *got.SettledAt, time.Second)
}

func TestCreateTransactionRejectsDuplicateMerchantRequestID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	order := createTestOrder(t, s, models.OrderPending)
	payment := &models.Payment{
		OrderID:       order.ID,
		UserID:        order.UserID,
		Amount:        order.Total,
		ExternalTxnID: "ws_CO_dup_txn_test",
		Status:        models.PaymentPending,
	}
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.CreatePayment(ctx, tx, payment)
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		s.db.Exec("DELETE FROM transactions WHERE payment_id = $1", payment.ID)
		s.db.Exec("DELETE FROM payments WHERE id = $1", payment.ID)
	})

	txn := &models.Transaction{
		PaymentID:         payment.ID,
		MerchantRequestID: "mr-dup-test",
		Amount:            payment.Amount,
		Phone:             "254712345678",
		Status:            "pending",
	}
	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.CreateTransaction(ctx, tx, txn)
	})
	require.NoError(t, err)

	dup := &models.Transaction{
		PaymentID:         payment.ID,
		MerchantRequestID: "mr-dup-test",
		Amount:            payment.Amount,
		Phone:             "254712345678",
		Status:            "pending",
	}
	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.CreateTransaction(ctx, tx, dup)
	})
	require.Error(t, err)
}

func TestTransitionRefundGuards(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	order := createTestOrder(t, s, models.OrderDelivered)
	refund := &models.Refund{
		OrderID: order.ID,
		UserID:  order.UserID,
		Reason:  "scratched surface",
		Status:  models.RefundRequested,
	}
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.CreateRefund(ctx, tx, refund)
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		s.db.Exec("DELETE FROM refunds WHERE id = $1", refund.ID)
	})

	notes := "damage not covered"
	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.TransitionRefund(ctx, tx, refund, models.RefundRejected, &notes, nil)
	})
	require.NoError(t, err)

	got, err := s.GetRefundByID(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RefundRejected, got.Status)
	require.NotNil(t, got.AdminNotes)
	assert.Equal(t, notes, *got.AdminNotes)
	// rejection changes status and notes only
	assert.Nil(t, got.ProcessedAt)

	// a rejected refund cannot be approved afterwards
	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.TransitionRefund(ctx, tx, refund, models.RefundApproved, nil, nil)
	})
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.BusinessRule, kind)
}

func TestTransitionOrderStatusGuards(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	order := &models.Order{
		UserID:          1,
		Status:          models.OrderPending,
		ShippingAddress: "1 Moi Avenue, Nairobi",
		Subtotal:        10000,
		ShippingCost:    700,
		Total:           10700,
	}
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.CreateOrder(ctx, tx, order)
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		s.db.Exec("DELETE FROM orders WHERE id = $1", order.ID)
	})

	// pending cannot jump straight to shipped
	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.TransitionOrderStatus(ctx, tx, order.ID, models.OrderShipped)
	})
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.BusinessRule, kind)

	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.TransitionOrderStatus(ctx, tx, order.ID, models.OrderProcessing)
	})
	require.NoError(t, err)

	got, err := s.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderProcessing, got.Status)
}
