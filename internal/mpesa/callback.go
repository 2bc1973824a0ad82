package mpesa

import (
	"fmt"
	"strings"

	"github.com/Omwansam/furniture-backend/internal/money"
)

// Result codes the provider uses for prompts the payer never completed.
const (
	ResultSuccess       = 0
	ResultCancelledUser = 1032
	ResultTimeout       = 1037
)

// CallbackEnvelope is the provider's callback payload shape.
type CallbackEnvelope struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

// StkCallback carries the outcome of one STK push attempt.
type StkCallback struct {
	MerchantRequestID string        `json:"MerchantRequestID"`
	CheckoutRequestID string        `json:"CheckoutRequestID"`
	ResultCode        int           `json:"ResultCode"`
	ResultDesc        string        `json:"ResultDesc"`
	CallbackMetadata  *CallbackMeta `json:"CallbackMetadata,omitempty"`
}

// CallbackMeta is the optional item list present on successful charges.
type CallbackMeta struct {
	Item []MetaItem `json:"Item"`
}

// MetaItem is one metadata entry; Value may be a string or a number.
type MetaItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value,omitempty"`
}

// Validate rejects structurally unusable envelopes. Business-level
// problems never cause rejection once the envelope parses.
func (e *CallbackEnvelope) Validate() error {
	if e.Body.StkCallback.CheckoutRequestID == "" {
		return fmt.Errorf("callback missing CheckoutRequestID")
	}
	return nil
}

// Success reports whether the provider confirmed the charge.
func (cb *StkCallback) Success() bool {
	return cb.ResultCode == ResultSuccess
}

// Expired reports whether the result code means the prompt lapsed rather
// than being declined.
func (cb *StkCallback) Expired() bool {
	return cb.ResultCode == ResultTimeout
}

// Receipt returns the provider receipt number when present.
func (cb *StkCallback) Receipt() (string, bool) {
	v, ok := cb.metaValue("MpesaReceiptNumber")
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// AmountUnits returns the charged amount in whole currency units when
// present, exactly as the provider reported it. Charged amounts are
// compared in provider units because the STK push itself is denominated
// in whole units.
func (cb *StkCallback) AmountUnits() (int64, bool) {
	v, ok := cb.metaValue("Amount")
	if !ok {
		return 0, false
	}
	units, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int64(units + 0.5), true
}

// Amount returns the charged amount in minor units when present.
func (cb *StkCallback) Amount() (money.Money, bool) {
	units, ok := cb.AmountUnits()
	if !ok {
		return 0, false
	}
	return money.Money(units * 100), true
}

// Phone returns the payer's phone number when present.
func (cb *StkCallback) Phone() (string, bool) {
	v, ok := cb.metaValue("PhoneNumber")
	if !ok {
		return "", false
	}
	switch value := v.(type) {
	case string:
		return value, true
	case float64:
		return fmt.Sprintf("%.0f", value), true
	}
	return "", false
}

func (cb *StkCallback) metaValue(name string) (interface{}, bool) {
	if cb.CallbackMetadata == nil {
		return nil, false
	}
	for _, item := range cb.CallbackMetadata.Item {
		if strings.EqualFold(item.Name, name) && item.Value != nil {
			return item.Value, true
		}
	}
	return nil, false
}
