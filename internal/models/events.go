package models

import (
	"time"

	"github.com/Omwansam/furniture-backend/internal/money"
)

// Event types published to the order-events topic for downstream
// consumers (notifications, analytics). The core never consumes them.
const (
	EventTypeOrderCreated     = "ORDER_CREATED"
	EventTypeOrderCancelled   = "ORDER_CANCELLED"
	EventTypePaymentCompleted = "PAYMENT_COMPLETED"
	EventTypePaymentFailed    = "PAYMENT_FAILED"
	EventTypePaymentExpired   = "PAYMENT_EXPIRED"
	EventTypeRefundProcessed  = "REFUND_PROCESSED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published once the checkout transaction commits
type OrderCreatedEvent struct {
	BaseEvent
	OrderID  int64           `json:"order_id"`
	UserID   int64           `json:"user_id"`
	Total    money.Money     `json:"total"`
	Discount money.Money     `json:"discount"`
	Items    []OrderItemData `json:"items"`
}

// OrderCancelledEvent published when an order is cancelled and its
// reserved inventory released
type OrderCancelledEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`
}

// PaymentCompletedEvent published when a callback settles a payment
type PaymentCompletedEvent struct {
	BaseEvent
	OrderID   int64       `json:"order_id"`
	PaymentID int64       `json:"payment_id"`
	Amount    money.Money `json:"amount"`
	Receipt   string      `json:"receipt,omitempty"`
}

// PaymentFailedEvent published when a callback or the sweeper fails a
// payment
type PaymentFailedEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	PaymentID int64  `json:"payment_id"`
	Reason    string `json:"reason"`
}

// RefundProcessedEvent published when an approved refund finishes
type RefundProcessedEvent struct {
	BaseEvent
	OrderID  int64       `json:"order_id"`
	RefundID int64       `json:"refund_id"`
	Amount   money.Money `json:"amount"`
	Restock  bool        `json:"restock"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64       `json:"product_id"`
	Quantity  int         `json:"quantity"`
	UnitPrice money.Money `json:"unit_price"`
}
