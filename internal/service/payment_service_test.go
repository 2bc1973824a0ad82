package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Omwansam/furniture-backend/internal/errs"
	"github.com/Omwansam/furniture-backend/internal/models"
	"github.com/Omwansam/furniture-backend/internal/money"
	"github.com/Omwansam/furniture-backend/internal/mpesa"
)

func callbackWithAmount(resultCode int, units float64) *mpesa.StkCallback {
	return &mpesa.StkCallback{
		MerchantRequestID: "mr-1",
		CheckoutRequestID: "ws_CO_1",
		ResultCode:        resultCode,
		ResultDesc:        "test",
		CallbackMetadata: &mpesa.CallbackMeta{
			Item: []mpesa.MetaItem{
				{Name: "Amount", Value: units},
				{Name: "MpesaReceiptNumber", Value: "RCPT123"},
			},
		},
	}
}

func paymentInStatus(status models.PaymentStatus, amount money.Money) *models.Payment {
	return &models.Payment{ID: 1, OrderID: 1, Amount: amount, Status: status}
}

func TestClassifyCallbackSuccess(t *testing.T) {
	payment := paymentInStatus(models.PaymentPending, money.Money(2800))
	cb := callbackWithAmount(mpesa.ResultSuccess, 28)

	assert.Equal(t, actionComplete, classifyCallback(payment, cb))
}

func TestClassifyCallbackSuccessNonRoundTotal(t *testing.T) {
	// 2750 minor units is pushed as 28 whole units, so a confirmation of
	// 28 matches the payment
	payment := paymentInStatus(models.PaymentPending, money.Money(2750))
	cb := callbackWithAmount(mpesa.ResultSuccess, 28)

	assert.Equal(t, actionComplete, classifyCallback(payment, cb))
}

func TestClassifyCallbackAmountMismatch(t *testing.T) {
	payment := paymentInStatus(models.PaymentPending, money.Money(2750))
	cb := callbackWithAmount(mpesa.ResultSuccess, 30)

	assert.Equal(t, actionMismatch, classifyCallback(payment, cb))
}

func TestClassifyCallbackReplayAfterCompletion(t *testing.T) {
	payment := paymentInStatus(models.PaymentCompleted, money.Money(2800))

	assert.Equal(t, actionReplay, classifyCallback(payment, callbackWithAmount(mpesa.ResultSuccess, 28)))
	assert.Equal(t, actionReplay, classifyCallback(payment, callbackWithAmount(mpesa.ResultCancelledUser, 28)))
}

func TestClassifyCallbackStaleSuccess(t *testing.T) {
	// a confirmation arriving after the local expiry sweep must not
	// error out; the delivery is acknowledged and only logged
	expired := paymentInStatus(models.PaymentExpired, money.Money(2800))
	assert.Equal(t, actionStale, classifyCallback(expired, callbackWithAmount(mpesa.ResultSuccess, 28)))

	failed := paymentInStatus(models.PaymentFailed, money.Money(2800))
	assert.Equal(t, actionStale, classifyCallback(failed, callbackWithAmount(mpesa.ResultSuccess, 28)))
}

func TestClassifyCallbackFailureCodes(t *testing.T) {
	pending := paymentInStatus(models.PaymentPending, money.Money(2800))

	assert.Equal(t, actionFail, classifyCallback(pending, callbackWithAmount(mpesa.ResultCancelledUser, 28)))
	assert.Equal(t, actionExpire, classifyCallback(pending, callbackWithAmount(mpesa.ResultTimeout, 28)))
}

func TestClassifyCallbackDuplicateFailure(t *testing.T) {
	failed := paymentInStatus(models.PaymentFailed, money.Money(2800))
	assert.Equal(t, actionReplay, classifyCallback(failed, callbackWithAmount(mpesa.ResultCancelledUser, 28)))

	expired := paymentInStatus(models.PaymentExpired, money.Money(2800))
	assert.Equal(t, actionReplay, classifyCallback(expired, callbackWithAmount(mpesa.ResultTimeout, 28)))
}

// stubProvider answers the provider's auth and STK push endpoints with a
// fixed correlation id pair.
func stubProvider(t *testing.T, merchantID, checkoutID string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "expires_in": "3599"})
		case "/mpesa/stkpush/v1/processrequest":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"MerchantRequestID": merchantID,
				"CheckoutRequestID": checkoutID,
				"ResponseCode":      "0",
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func stubClient(baseURL string) *mpesa.Client {
	return mpesa.NewClient(mpesa.Config{
		BaseURL:        baseURL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		Shortcode:      "174379",
		Passkey:        "passkey",
		CallbackURL:    "https://example.com/callback",
		AuthTimeout:    2 * time.Second,
		STKTimeout:     2 * time.Second,
	})
}

func TestInitiateReopensFailedPayment(t *testing.T) {
	st, db := serviceTestDeps(t)
	ctx := context.Background()

	var orderID int64
	err := db.Get(&orderID, `
		INSERT INTO orders (user_id, status, shipping_address, subtotal, shipping_cost, total)
		VALUES (7, 'pending', '1 Moi Avenue, Nairobi', 10000, 700, 10700)
		RETURNING id`)
	require.NoError(t, err)

	var paymentID int64
	err = db.Get(&paymentID, `
		INSERT INTO payments (order_id, user_id, amount, external_txn_id, status)
		VALUES ($1, 7, 10700, 'ws_CO_stale', 'failed')
		RETURNING id`, orderID)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Exec("DELETE FROM transactions WHERE payment_id = $1", paymentID)
		db.Exec("DELETE FROM payments WHERE id = $1", paymentID)
		db.Exec("DELETE FROM orders WHERE id = $1", orderID)
	})

	server := stubProvider(t, "mr-retry-1", "ws_CO_fresh")
	svc := NewPaymentService(st, nil, stubClient(server.URL), nil, time.Second)

	result, err := svc.Initiate(ctx, orderID, "254712345678")
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_fresh", result.CheckoutRequestID)

	// the payment reopened under the new correlation id; callbacks for
	// the old push no longer match it
	payment, err := st.GetPaymentByOrderID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, payment.Status)
	assert.Equal(t, "ws_CO_fresh", payment.ExternalTxnID)

	var txnCount int
	require.NoError(t, db.Get(&txnCount,
		"SELECT COUNT(*) FROM transactions WHERE merchant_request_id = 'mr-retry-1'"))
	assert.Equal(t, 1, txnCount)
}

func TestInitiateRejectsClosedOrder(t *testing.T) {
	st, db := serviceTestDeps(t)
	ctx := context.Background()

	var orderID int64
	err := db.Get(&orderID, `
		INSERT INTO orders (user_id, status, shipping_address, subtotal, shipping_cost, total)
		VALUES (8, 'cancelled', '1 Moi Avenue, Nairobi', 10000, 700, 10700)
		RETURNING id`)
	require.NoError(t, err)

	var paymentID int64
	err = db.Get(&paymentID, `
		INSERT INTO payments (order_id, user_id, amount, external_txn_id, status)
		VALUES ($1, 8, 10700, 'ws_CO_closed', 'expired')
		RETURNING id`, orderID)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Exec("DELETE FROM payments WHERE id = $1", paymentID)
		db.Exec("DELETE FROM orders WHERE id = $1", orderID)
	})

	server := stubProvider(t, "mr-closed-1", "ws_CO_closed_fresh")
	svc := NewPaymentService(st, nil, stubClient(server.URL), nil, time.Second)

	_, err = svc.Initiate(ctx, orderID, "254712345678")
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.BusinessRule, kind)

	// the expired payment stands
	payment, err := st.GetPaymentByOrderID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentExpired, payment.Status)
	assert.Equal(t, "ws_CO_closed", payment.ExternalTxnID)
}
