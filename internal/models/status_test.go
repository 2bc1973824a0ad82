package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderTransitions(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		ok       bool
	}{
		{OrderPending, OrderProcessing, true},
		{OrderPending, OrderCancelled, true},
		{OrderProcessing, OrderShipped, true},
		{OrderShipped, OrderDelivered, true},
		{OrderDelivered, OrderReturned, true},

		{OrderPending, OrderShipped, false},
		{OrderPending, OrderDelivered, false},
		{OrderProcessing, OrderCancelled, false},
		{OrderDelivered, OrderPending, false},
		{OrderCancelled, OrderProcessing, false},
		{OrderReturned, OrderPending, false},
		{OrderShipped, OrderCancelled, false},
	}

	for _, c := range cases {
		assert.Equal(t, c.ok, c.from.CanTransition(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestPaymentTransitions(t *testing.T) {
	assert.True(t, PaymentPending.CanTransition(PaymentCompleted))
	assert.True(t, PaymentPending.CanTransition(PaymentFailed))
	assert.True(t, PaymentPending.CanTransition(PaymentExpired))
	assert.True(t, PaymentCompleted.CanTransition(PaymentRefunded))
	assert.True(t, PaymentFailed.CanTransition(PaymentPending))
	assert.True(t, PaymentExpired.CanTransition(PaymentPending))

	assert.False(t, PaymentCompleted.CanTransition(PaymentFailed))
	assert.False(t, PaymentFailed.CanTransition(PaymentCompleted))
	assert.False(t, PaymentExpired.CanTransition(PaymentCompleted))
	assert.False(t, PaymentRefunded.CanTransition(PaymentPending))
}

func TestPaymentTerminal(t *testing.T) {
	assert.True(t, PaymentCompleted.Terminal())
	assert.True(t, PaymentRefunded.Terminal())
	assert.False(t, PaymentPending.Terminal())
	assert.False(t, PaymentFailed.Terminal())
}

func TestRefundTransitions(t *testing.T) {
	assert.True(t, RefundRequested.CanTransition(RefundApproved))
	assert.True(t, RefundRequested.CanTransition(RefundRejected))
	assert.True(t, RefundApproved.CanTransition(RefundProcessed))

	assert.False(t, RefundRejected.CanTransition(RefundApproved))
	assert.False(t, RefundProcessed.CanTransition(RefundRequested))
}
