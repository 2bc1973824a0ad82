package models

import (
	"time"

	"github.com/Omwansam/furniture-backend/internal/money"
)

// Product represents a catalog item. Stock is mutated only through the
// inventory ledger under row-level locks.
type Product struct {
	ID          int64       `db:"id" json:"id"`
	Name        string      `db:"name" json:"name"`
	Description string      `db:"description" json:"description"`
	UnitPrice   money.Money `db:"unit_price" json:"unit_price"`
	Stock       int         `db:"stock" json:"stock"`
	CategoryID  int64       `db:"category_id" json:"category_id"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

// CartLine is a read-only view of one cart row joined with its product,
// used by checkout. Cart mutation is handled elsewhere.
type CartLine struct {
	ProductID int64       `db:"product_id" json:"product_id"`
	Quantity  int         `db:"quantity" json:"quantity"`
	UnitPrice money.Money `db:"unit_price" json:"unit_price"`
}

// Order represents a customer order.
type Order struct {
	ID              int64       `db:"id" json:"id"`
	UserID          int64       `db:"user_id" json:"user_id"`
	Status          OrderStatus `db:"status" json:"status"`
	ShippingAddress string      `db:"shipping_address" json:"shipping_address"`
	Subtotal        money.Money `db:"subtotal" json:"subtotal"`
	ShippingCost    money.Money `db:"shipping_cost" json:"shipping_cost"`
	Discount        money.Money `db:"discount" json:"discount"`
	Tax             money.Money `db:"tax" json:"tax"`
	Total           money.Money `db:"total" json:"total"`
	CouponCode      *string     `db:"coupon_code" json:"coupon_code,omitempty"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

// OrderItem is a line of an order. UnitPrice is the price at order time
// and never changes afterwards.
type OrderItem struct {
	ID              int64          `db:"id" json:"id"`
	OrderID         int64          `db:"order_id" json:"order_id"`
	ProductID       int64          `db:"product_id" json:"product_id"`
	Quantity        int            `db:"quantity" json:"quantity"`
	UnitPrice       money.Money    `db:"unit_price" json:"unit_price"`
	LineDiscount    money.Money    `db:"line_discount" json:"line_discount"`
	LineShipping    money.Money    `db:"line_shipping" json:"line_shipping"`
	LineTax         money.Money    `db:"line_tax" json:"line_tax"`
	ShippingStatus  ShippingStatus `db:"shipping_status" json:"shipping_status"`
	RefundRequested bool           `db:"refund_requested" json:"refund_requested"`
}

// CouponKind is the discount model of a coupon.
type CouponKind string

const (
	CouponPercentage CouponKind = "percentage"
	CouponFixed      CouponKind = "fixed"
)

// Coupon is a shared discount code. Usage accounting happens under a
// row-level lock in the store. Value is a percent for percentage coupons
// and minor units for fixed ones.
type Coupon struct {
	Code              string       `db:"code" json:"code"`
	Kind              CouponKind   `db:"kind" json:"kind"`
	Value             int64        `db:"value" json:"value"`
	Active            bool         `db:"active" json:"active"`
	ValidFrom         time.Time    `db:"valid_from" json:"valid_from"`
	ValidTo           *time.Time   `db:"valid_to" json:"valid_to,omitempty"`
	MinOrderAmount    *money.Money `db:"min_order_amount" json:"min_order_amount,omitempty"`
	MaxDiscountAmount *money.Money `db:"max_discount_amount" json:"max_discount_amount,omitempty"`
	UsesRemaining     *int         `db:"uses_remaining" json:"uses_remaining,omitempty"`
}

// Payment is the single payment of an order. ExternalTxnID holds the
// provider's checkout request id once the STK push is accepted.
type Payment struct {
	ID            int64         `db:"id" json:"id"`
	OrderID       int64         `db:"order_id" json:"order_id"`
	UserID        int64         `db:"user_id" json:"user_id"`
	Amount        money.Money   `db:"amount" json:"amount"`
	ExternalTxnID string        `db:"external_txn_id" json:"external_txn_id,omitempty"`
	Status        PaymentStatus `db:"status" json:"status"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	SettledAt     *time.Time    `db:"settled_at" json:"settled_at,omitempty"`
}

// PaymentEvent is an append-only record of every provider callback and
// internally generated payment outcome. Never mutated after insert.
type PaymentEvent struct {
	ID                int64     `db:"id" json:"id"`
	PaymentID         int64     `db:"payment_id" json:"payment_id"`
	ReceivedAt        time.Time `db:"received_at" json:"received_at"`
	ResultCode        int       `db:"result_code" json:"result_code"`
	ResultDescription string    `db:"result_description" json:"result_description"`
	MerchantRequestID string    `db:"merchant_request_id" json:"merchant_request_id"`
	CheckoutRequestID string    `db:"checkout_request_id" json:"checkout_request_id"`
	RawPayload        []byte    `db:"raw_payload" json:"raw_payload,omitempty"`
}

// Transaction is the per-attempt record for an STK push.
type Transaction struct {
	ID                int64       `db:"id" json:"id"`
	PaymentID         int64       `db:"payment_id" json:"payment_id"`
	MerchantRequestID string      `db:"merchant_request_id" json:"merchant_request_id"`
	Amount            money.Money `db:"amount" json:"amount"`
	Phone             string      `db:"phone" json:"phone"`
	Status            string      `db:"status" json:"status"`
	ProviderReceipt   *string     `db:"provider_receipt" json:"provider_receipt,omitempty"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
}

// Refund tracks a return request through admin processing. At most one
// refund exists per order.
type Refund struct {
	ID          int64        `db:"id" json:"id"`
	OrderID     int64        `db:"order_id" json:"order_id"`
	UserID      int64        `db:"user_id" json:"user_id"`
	Reason      string       `db:"reason" json:"reason"`
	Status      RefundStatus `db:"status" json:"status"`
	AdminNotes  *string      `db:"admin_notes" json:"admin_notes,omitempty"`
	RequestedAt time.Time    `db:"requested_at" json:"requested_at"`
	ProcessedAt *time.Time   `db:"processed_at" json:"processed_at,omitempty"`
}

// UnmatchedCallback is the dead-letter row for callbacks whose
// checkout request id matches no payment. An operator reconciles them.
type UnmatchedCallback struct {
	ID                int64     `db:"id" json:"id"`
	CheckoutRequestID string    `db:"checkout_request_id" json:"checkout_request_id"`
	RawPayload        []byte    `db:"raw_payload" json:"raw_payload"`
	ReceivedAt        time.Time `db:"received_at" json:"received_at"`
}
