package mpesa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Omwansam/furniture-backend/internal/errs"
	"github.com/Omwansam/furniture-backend/internal/money"
)

func TestSanitizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0712345678", "254712345678"},
		{"+254712345678", "254712345678"},
		{"254712345678", "254712345678"},
		{"0712 345 678", "254712345678"},
		{"0712-345-678", "254712345678"},
		{"0110345678", "254110345678"},
	}
	for _, c := range cases {
		got, err := SanitizePhone(c.in)
		assert.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestSanitizePhoneRejects(t *testing.T) {
	for _, in := range []string{"", "12345", "071234567", "07123456789", "254212345678", "abc", "0712a45678"} {
		_, err := SanitizePhone(in)
		assert.ErrorIs(t, err, errs.ErrInvalidPhone, in)
	}
}

func TestPassword(t *testing.T) {
	// base64("174379" + "key" + "20260301120000")
	assert.Equal(t, "MTc0Mzc5a2V5MjAyNjAzMDExMjAwMDA=", Password("174379", "key", "20260301120000"))
}

func TestCallbackMetadata(t *testing.T) {
	payload := []byte(`{
		"Body": {"stkCallback": {
			"MerchantRequestID": "29115-34620561-1",
			"CheckoutRequestID": "ws_CO_191220191020363925",
			"ResultCode": 0,
			"ResultDesc": "The service request is processed successfully.",
			"CallbackMetadata": {"Item": [
				{"Name": "Amount", "Value": 27.00},
				{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
				{"Name": "TransactionDate", "Value": 20191219102115},
				{"Name": "PhoneNumber", "Value": 254708374149}
			]}
		}}
	}`)

	var env CallbackEnvelope
	require.NoError(t, json.Unmarshal(payload, &env))
	require.NoError(t, env.Validate())

	cb := env.Body.StkCallback
	assert.True(t, cb.Success())
	assert.False(t, cb.Expired())

	units, ok := cb.AmountUnits()
	assert.True(t, ok)
	assert.Equal(t, int64(27), units)

	amount, ok := cb.Amount()
	assert.True(t, ok)
	assert.Equal(t, money.Money(2700), amount)

	receipt, ok := cb.Receipt()
	assert.True(t, ok)
	assert.Equal(t, "NLJ7RT61SV", receipt)

	phone, ok := cb.Phone()
	assert.True(t, ok)
	assert.Equal(t, "254708374149", phone)
}

func TestCallbackFailureWithoutMetadata(t *testing.T) {
	payload := []byte(`{
		"Body": {"stkCallback": {
			"MerchantRequestID": "29115-34620561-1",
			"CheckoutRequestID": "ws_CO_191220191020363925",
			"ResultCode": 1032,
			"ResultDesc": "Request cancelled by user"
		}}
	}`)

	var env CallbackEnvelope
	require.NoError(t, json.Unmarshal(payload, &env))

	cb := env.Body.StkCallback
	assert.False(t, cb.Success())
	assert.False(t, cb.Expired())

	_, ok := cb.Amount()
	assert.False(t, ok)
}

func TestCallbackValidateRejectsEmptyID(t *testing.T) {
	var env CallbackEnvelope
	require.NoError(t, json.Unmarshal([]byte(`{"Body":{"stkCallback":{"ResultCode":0}}}`), &env))
	assert.Error(t, env.Validate())
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(Config{
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

func TestSTKPushSuccess(t *testing.T) {
	var sawAuth, sawPush bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "key", user)
			assert.Equal(t, "secret", pass)
			sawAuth = true
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "expires_in": "3599"})
		case "/mpesa/stkpush/v1/processrequest":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			var body stkPushRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, int64(27), body.Amount)
			assert.Equal(t, "254712345678", body.PhoneNumber)
			sawPush = true
			_ = json.NewEncoder(w).Encode(map[string]string{
				"MerchantRequestID": "mr-1",
				"CheckoutRequestID": "ws_CO_1",
				"ResponseCode":      "0",
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	result, err := client.STKPush(context.Background(), 2700, "254712345678", "ORDER-1", "Furniture order")
	require.NoError(t, err)
	assert.Equal(t, "mr-1", result.MerchantRequestID)
	assert.Equal(t, "ws_CO_1", result.CheckoutRequestID)
	assert.True(t, sawAuth)
	assert.True(t, sawPush)
}

func TestSTKPushRetriesOn5xx(t *testing.T) {
	var pushes int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "expires_in": "3599"})
			return
		}
		if atomic.AddInt32(&pushes, 1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"MerchantRequestID": "mr-1",
			"CheckoutRequestID": "ws_CO_1",
			"ResponseCode":      "0",
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	result, err := client.STKPush(context.Background(), 2700, "254712345678", "ORDER-1", "Furniture order")
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", result.CheckoutRequestID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&pushes))
}

func TestSTKPushNoRetryOn4xx(t *testing.T) {
	var pushes int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "expires_in": "3599"})
			return
		}
		atomic.AddInt32(&pushes, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.STKPush(context.Background(), 2700, "254712345678", "ORDER-1", "Furniture order")
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&pushes))
}

func TestBearerTokenCached(t *testing.T) {
	var tokens int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			atomic.AddInt32(&tokens, 1)
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "expires_in": "3599"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"MerchantRequestID": "mr",
			"CheckoutRequestID": "ws",
			"ResponseCode":      "0",
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx := context.Background()
	_, err := client.STKPush(ctx, 100, "254712345678", "O1", "d")
	require.NoError(t, err)
	_, err = client.STKPush(ctx, 100, "254712345678", "O2", "d")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokens))
}
