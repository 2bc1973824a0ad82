// Package mpesa is the mobile-money adapter: bearer-token auth, STK push
// initiation, and callback payload normalization for a Daraja-style API.
// It performs I/O only; payment state lives in the orchestrator.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Omwansam/furniture-backend/internal/errs"
	"github.com/Omwansam/furniture-backend/internal/money"
	"github.com/Omwansam/furniture-backend/internal/util"
)

const (
	authPath    = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath = "/mpesa/stkpush/v1/processrequest"

	// tokenSlack refreshes the cached token this long before expiry.
	tokenSlack = 60 * time.Second

	maxRetries = 2
)

// Config carries the provider settings the client needs.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	CallbackURL    string
	AuthTimeout    time.Duration
	STKTimeout     time.Duration
}

// Client talks to the payment provider. The bearer token cache is
// per-process and never authoritative for business state.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates a provider client.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.STKTimeout},
		logger: util.NamedLogger("mpesa"),
		now:    time.Now,
	}
}

// STKResult is the successful outcome of an STK push initiation.
type STKResult struct {
	MerchantRequestID string
	CheckoutRequestID string
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	ErrorMessage        string `json:"errorMessage"`
}

// STKPush asks the provider to prompt the payer's handset for the given
// amount. The amount is converted to whole currency units as the
// provider requires. Retries at most twice on network errors and 5xx
// replies with exponential backoff, never on 4xx.
func (c *Client) STKPush(ctx context.Context, amount money.Money, phone, accountRef, description string) (*STKResult, error) {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := c.now().Format("20060102150405")
	body := stkPushRequest{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          Password(c.cfg.Shortcode, c.cfg.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount.Units(),
		PartyA:            phone,
		PartyB:            c.cfg.Shortcode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  accountRef,
		TransactionDesc:   description,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stk push request: %w", err)
	}

	start := time.Now()
	resp, err := c.postWithRetry(ctx, c.cfg.BaseURL+stkPushPath, token, payload)
	util.StkPushLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	if resp.ResponseCode != "0" {
		msg := resp.ResponseDescription
		if msg == "" {
			msg = resp.ErrorMessage
		}
		return nil, errs.New(errs.ExternalUnavailable, "STK_PUSH_REJECTED",
			fmt.Sprintf("provider rejected stk push: %s", msg))
	}

	return &STKResult{
		MerchantRequestID: resp.MerchantRequestID,
		CheckoutRequestID: resp.CheckoutRequestID,
	}, nil
}

func (c *Client) postWithRetry(ctx context.Context, url, token string, payload []byte) (*stkPushResponse, error) {
	backoff := 500 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		resp, retryable, err := c.postOnce(ctx, url, token, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		c.logger.Warn("STK push attempt failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return nil, errs.Wrap(errs.ExternalUnavailable, "PROVIDER_UNAVAILABLE",
		"provider unreachable after retries", lastErr)
}

func (c *Client) postOnce(ctx context.Context, url, token string, payload []byte) (*stkPushResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("provider returned %d: %s", resp.StatusCode, raw)
	}
	if resp.StatusCode >= 400 {
		return nil, false, errs.New(errs.ExternalUnavailable, "STK_PUSH_REJECTED",
			fmt.Sprintf("provider returned %d: %s", resp.StatusCode, raw))
	}

	var parsed stkPushResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, false, fmt.Errorf("failed to decode provider response: %w", err)
	}
	return &parsed, false, nil
}

// bearerToken returns the cached token, refreshing it shortly before
// expiry with basic-auth client credentials.
func (c *Client) bearerToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Add(tokenSlack).Before(c.tokenExpiry) {
		return c.token, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.AuthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+authPath, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errs.Wrap(errs.ExternalUnavailable, "PROVIDER_AUTH_FAILED", "token request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errs.New(errs.ExternalUnavailable, "PROVIDER_AUTH_FAILED",
			fmt.Sprintf("token endpoint returned %d", resp.StatusCode))
	}

	var parsed tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	expiresIn := 3600 * time.Second
	if secs, err := time.ParseDuration(parsed.ExpiresIn + "s"); err == nil && secs > 0 {
		expiresIn = secs
	}

	c.token = parsed.AccessToken
	c.tokenExpiry = c.now().Add(expiresIn)
	return c.token, nil
}

// Password computes the timestamped STK push credential.
func Password(shortcode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
}
