package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Omwansam/furniture-backend/internal/broker"
	"github.com/Omwansam/furniture-backend/internal/errs"
	"github.com/Omwansam/furniture-backend/internal/models"
	"github.com/Omwansam/furniture-backend/internal/money"
	"github.com/Omwansam/furniture-backend/internal/mpesa"
	"github.com/Omwansam/furniture-backend/internal/pricing"
	"github.com/Omwansam/furniture-backend/internal/store"
	"github.com/Omwansam/furniture-backend/internal/util"
)

// Payment methods accepted at checkout.
const (
	MethodMobileMoney = "mobile_money"
	MethodBankCard    = "bank_card"
)

// placeholderExternalID marks a payment whose STK push has not yet
// returned a provider correlation id.
func placeholderExternalID() string {
	return "local-" + uuid.New().String()
}

// CheckoutService turns the authenticated user's cart into a persisted,
// priced order with a pending payment.
type CheckoutService struct {
	store     *store.Store
	pricer    *pricing.Engine
	payments  *PaymentService
	publisher *broker.EventPublisher
	logger    *zap.Logger
	budget    time.Duration
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	store *store.Store,
	pricer *pricing.Engine,
	payments *PaymentService,
	publisher *broker.EventPublisher,
	budget time.Duration,
) *CheckoutService {
	return &CheckoutService{
		store:     store,
		pricer:    pricer,
		payments:  payments,
		publisher: publisher,
		logger:    util.NamedLogger("checkout"),
		budget:    budget,
	}
}

// CheckoutRequest is the input of one checkout attempt.
type CheckoutRequest struct {
	UserID          int64
	ShippingAddress string
	PaymentMethod   string
	PhoneNumber     string
	CouponCode      string
}

// CheckoutResponse reports the created order and its pricing breakdown.
type CheckoutResponse struct {
	OrderID       int64                `json:"order_id"`
	Subtotal      money.Money          `json:"subtotal"`
	ShippingCost  money.Money          `json:"shipping_cost"`
	Discount      money.Money          `json:"discount"`
	Total         money.Money          `json:"total"`
	CouponApplied bool                 `json:"coupon_applied"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
}

// Checkout runs the atomic checkout: cart load, pricing, order and item
// insert, inventory reservation, coupon usage commit, pending payment
// row and cart clear all happen in one transaction. The mobile-money STK push
// happens after commit; its failure marks the payment failed but never
// rolls back the order.
func (s *CheckoutService) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Checkout")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	phone, err := s.validateRequest(req)
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("bad_request").Inc()
		return nil, err
	}

	lines, err := s.store.GetCartLines(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if len(lines) == 0 {
		util.CheckoutsFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, errs.ErrEmptyCart
	}

	var coupon *models.Coupon
	if req.CouponCode != "" {
		coupon, err = s.store.GetCoupon(ctx, req.CouponCode)
		if err != nil {
			return nil, fmt.Errorf("failed to load coupon: %w", err)
		}
	}

	var (
		order   *models.Order
		payment *models.Payment
		quote   *pricing.Quote
	)

	err = s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		quote, err = s.pricer.Price(lines, req.CouponCode, coupon, time.Now())
		if err != nil {
			return err
		}

		order = &models.Order{
			UserID:          req.UserID,
			Status:          models.OrderPending,
			ShippingAddress: req.ShippingAddress,
			Subtotal:        quote.Subtotal,
			ShippingCost:    quote.Shipping,
			Discount:        quote.Discount,
			Tax:             quote.Tax,
			Total:           quote.Total,
		}
		if quote.Discount > 0 {
			code := req.CouponCode
			order.CouponCode = &code
		}
		if err := s.store.CreateOrder(ctx, tx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		for _, line := range quote.Lines {
			item := &models.OrderItem{
				OrderID:        order.ID,
				ProductID:      line.ProductID,
				Quantity:       line.Quantity,
				UnitPrice:      line.UnitPrice,
				LineDiscount:   line.LineDiscount,
				LineShipping:   line.LineShipping,
				LineTax:        line.LineTax,
				ShippingStatus: models.ShippingPending,
			}
			if err := s.store.CreateOrderItem(ctx, tx, item); err != nil {
				return fmt.Errorf("failed to create order item: %w", err)
			}
		}

		if err := s.store.ReserveStock(ctx, tx, lines); err != nil {
			return err
		}

		// the coupon row lock serializes concurrent checkouts racing
		// for the last use; the loser aborts here
		if order.CouponCode != nil {
			if err := s.store.CommitCouponUsage(ctx, tx, req.CouponCode); err != nil {
				return err
			}
		}

		payment = &models.Payment{
			OrderID:       order.ID,
			UserID:        req.UserID,
			Amount:        quote.Total,
			ExternalTxnID: placeholderExternalID(),
			Status:        models.PaymentPending,
		}
		if err := s.store.CreatePayment(ctx, tx, payment); err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}

		return s.store.ClearCart(ctx, tx, req.UserID)
	})
	if err != nil {
		s.countFailure(err)
		return nil, err
	}

	util.CheckoutsTotal.Inc()
	if order.CouponCode != nil {
		util.CouponsAppliedTotal.Inc()
	}
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", req.UserID),
		zap.String("total", quote.Total.String()))

	s.publishOrderCreated(ctx, order, quote)

	paymentStatus := payment.Status
	if req.PaymentMethod == MethodMobileMoney {
		if _, err := s.payments.Initiate(ctx, order.ID, phone); err != nil {
			// order stands; the payment is already marked failed
			s.logger.Warn("STK push initiation failed after checkout",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
			paymentStatus = models.PaymentFailed
		}
	}

	return &CheckoutResponse{
		OrderID:       order.ID,
		Subtotal:      quote.Subtotal,
		ShippingCost:  quote.Shipping,
		Discount:      quote.Discount,
		Total:         quote.Total,
		CouponApplied: order.CouponCode != nil,
		PaymentStatus: paymentStatus,
	}, nil
}

// validateRequest rejects malformed input before any state changes and
// returns the canonical phone number for mobile-money checkouts.
func (s *CheckoutService) validateRequest(req *CheckoutRequest) (string, error) {
	if req.ShippingAddress == "" {
		return "", errs.New(errs.Validation, "MISSING_ADDRESS", "shipping address is required")
	}

	switch req.PaymentMethod {
	case MethodMobileMoney:
		return mpesa.SanitizePhone(req.PhoneNumber)
	case MethodBankCard:
		return "", nil
	default:
		return "", errs.New(errs.Validation, "BAD_PAYMENT_METHOD",
			fmt.Sprintf("unsupported payment method %q", req.PaymentMethod))
	}
}

func (s *CheckoutService) countFailure(err error) {
	switch {
	case err == errs.ErrEmptyCart:
		util.CheckoutsFailedTotal.WithLabelValues("empty_cart").Inc()
	default:
		kind, _ := errs.KindOf(err)
		switch kind {
		case errs.BusinessRule:
			util.CheckoutsFailedTotal.WithLabelValues("business_rule").Inc()
		case errs.Validation:
			util.CheckoutsFailedTotal.WithLabelValues("bad_request").Inc()
		default:
			util.CheckoutsFailedTotal.WithLabelValues("internal").Inc()
		}
	}
}

func (s *CheckoutService) publishOrderCreated(ctx context.Context, order *models.Order, quote *pricing.Quote) {
	items := make([]models.OrderItemData, 0, len(quote.Lines))
	for _, line := range quote.Lines {
		items = append(items, models.OrderItemData{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: time.Now(),
		},
		OrderID:  order.ID,
		UserID:   order.UserID,
		Total:    order.Total,
		Discount: order.Discount,
		Items:    items,
	}

	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}
