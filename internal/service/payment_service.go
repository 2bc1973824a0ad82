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
	"github.com/Omwansam/furniture-backend/internal/mpesa"
	"github.com/Omwansam/furniture-backend/internal/redisclient"
	"github.com/Omwansam/furniture-backend/internal/store"
	"github.com/Omwansam/furniture-backend/internal/util"
)

const (
	statusCacheTTL  = 5 * time.Second
	callbackLockTTL = 30 * time.Second

	txnStatusPending   = "pending"
	txnStatusCompleted = "completed"
	txnStatusFailed    = "failed"
)

// StatusNotFound is returned by Status when no payment matches the
// checkout request id.
const StatusNotFound = "not_found"

// PaymentService orchestrates payments: it initiates STK pushes,
// reconciles provider callbacks against payments and orders, and serves
// the status polling read model.
type PaymentService struct {
	store     *store.Store
	redis     *redisclient.Client
	client    *mpesa.Client
	publisher *broker.EventPublisher
	logger    *zap.Logger
	budget    time.Duration
}

// NewPaymentService creates a new payment orchestrator
func NewPaymentService(
	store *store.Store,
	redis *redisclient.Client,
	client *mpesa.Client,
	publisher *broker.EventPublisher,
	callbackBudget time.Duration,
) *PaymentService {
	return &PaymentService{
		store:     store,
		redis:     redis,
		client:    client,
		publisher: publisher,
		logger:    util.NamedLogger("payments"),
		budget:    callbackBudget,
	}
}

// InitiateResult reports a successfully started STK push.
type InitiateResult struct {
	PaymentID         int64  `json:"payment_id"`
	MerchantRequestID string `json:"merchant_request_id"`
	CheckoutRequestID string `json:"checkout_request_id"`
}

// Initiate starts the mobile-money flow for an order's payment. The
// provider's checkout request id becomes the payment's external id; a
// provider error marks the payment failed and is recorded as an event.
// A failed or expired payment whose order is still open reopens to
// pending for the fresh attempt; late callbacks for the previous push
// dead-letter on the replaced external id.
func (s *PaymentService) Initiate(ctx context.Context, orderID int64, phone string) (*InitiateResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Initiate")
	defer span.End()

	payment, err := s.store.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment.Status.Terminal() {
		return nil, errs.ErrAlreadyPaid
	}

	sanitized, err := mpesa.SanitizePhone(phone)
	if err != nil {
		return nil, err
	}

	result, err := s.client.STKPush(ctx, payment.Amount, sanitized,
		fmt.Sprintf("ORDER-%d", orderID), "Furniture order payment")
	if err != nil {
		util.StkPushTotal.WithLabelValues("error").Inc()
		s.recordInitiationFailure(ctx, payment, err)
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.store.GetPaymentByIDForUpdate(ctx, tx, payment.ID)
		if err != nil {
			return err
		}
		if locked.Status.Terminal() {
			return errs.ErrAlreadyPaid
		}
		if locked.Status != models.PaymentPending {
			order, err := s.store.GetOrderForUpdate(ctx, tx, locked.OrderID)
			if err != nil {
				return err
			}
			if order.Status != models.OrderPending {
				return errs.New(errs.BusinessRule, "ORDER_NOT_PAYABLE",
					fmt.Sprintf("order %d is %s and cannot accept a new payment attempt", order.ID, order.Status))
			}
			if err := s.store.TransitionPaymentStatus(ctx, tx, locked, models.PaymentPending, nil); err != nil {
				return err
			}
		}

		if err := s.store.SetPaymentExternalID(ctx, tx, locked.ID, result.CheckoutRequestID); err != nil {
			return fmt.Errorf("failed to store checkout request id: %w", err)
		}

		txn := &models.Transaction{
			PaymentID:         locked.ID,
			MerchantRequestID: result.MerchantRequestID,
			Amount:            locked.Amount,
			Phone:             sanitized,
			Status:            txnStatusPending,
		}
		return s.store.CreateTransaction(ctx, tx, txn)
	})
	if err != nil {
		return nil, err
	}

	util.StkPushTotal.WithLabelValues("accepted").Inc()
	s.logger.Info("STK push initiated",
		zap.Int64("order_id", orderID),
		zap.String("checkout_request_id", result.CheckoutRequestID))

	return &InitiateResult{
		PaymentID:         payment.ID,
		MerchantRequestID: result.MerchantRequestID,
		CheckoutRequestID: result.CheckoutRequestID,
	}, nil
}

// recordInitiationFailure marks the payment failed after a provider
// error and appends the event. The order itself stands.
func (s *PaymentService) recordInitiationFailure(ctx context.Context, payment *models.Payment, cause error) {
	if err := s.store.MarkPaymentFailed(ctx, payment.ID); err != nil {
		s.logger.Error("Failed to mark payment failed", zap.Int64("payment_id", payment.ID), zap.Error(err))
		return
	}

	event := &models.PaymentEvent{
		PaymentID:         payment.ID,
		ReceivedAt:        time.Now(),
		ResultCode:        -1,
		ResultDescription: fmt.Sprintf("stk push initiation failed: %v", cause),
	}
	if err := s.store.AppendPaymentEvent(ctx, event); err != nil {
		s.logger.Error("Failed to append payment event", zap.Error(err))
	}

	util.PaymentsFailedTotal.WithLabelValues("initiation").Inc()
	s.publishPaymentFailed(ctx, payment, "initiation_failed")
}

// StatusResult is the polling read model for one payment attempt.
type StatusResult struct {
	Status    string     `json:"status"`
	PaymentID *int64     `json:"payment_id,omitempty"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
}

// Status reports the authoritative payment state for a checkout request
// id. A short-lived redis cache absorbs polling bursts.
func (s *PaymentService) Status(ctx context.Context, checkoutRequestID string) (*StatusResult, error) {
	// the cache absorbs polling bursts while a push is pending; terminal
	// states go back to the database so the response carries settled_at
	if cached, err := s.redis.GetCachedPaymentStatus(ctx, checkoutRequestID); err == nil {
		switch cached {
		case StatusNotFound:
			return &StatusResult{Status: StatusNotFound}, nil
		case string(models.PaymentPending):
			return &StatusResult{Status: cached}, nil
		}
	}

	payment, err := s.store.GetPaymentByExternalID(ctx, checkoutRequestID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		_ = s.redis.CachePaymentStatus(ctx, checkoutRequestID, StatusNotFound, statusCacheTTL)
		return &StatusResult{Status: StatusNotFound}, nil
	}

	_ = s.redis.CachePaymentStatus(ctx, checkoutRequestID, string(payment.Status), statusCacheTTL)
	return &StatusResult{
		Status:    string(payment.Status),
		PaymentID: &payment.ID,
		SettledAt: payment.SettledAt,
	}, nil
}

// HandleCallback reconciles one provider callback delivery. It is
// idempotent: replays after a terminal state only append an event, and
// the payment row lock serializes concurrent deliveries of the same
// checkout request id. A nil return means the event is durably recorded
// and the provider must receive a 2xx acknowledgement.
func (s *PaymentService) HandleCallback(ctx context.Context, env *mpesa.CallbackEnvelope, raw []byte) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleCallback")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	cb := env.Body.StkCallback

	// best-effort shed of duplicate concurrent deliveries; the row lock
	// below is the actual serialization point
	if locked, err := s.redis.AcquireCallbackLock(ctx, cb.CheckoutRequestID, callbackLockTTL); err == nil && locked {
		defer func() {
			_ = s.redis.ReleaseCallbackLock(context.Background(), cb.CheckoutRequestID)
		}()
	}

	var outcome *callbackOutcome
	err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		payment, err := s.store.GetPaymentForUpdate(ctx, tx, cb.CheckoutRequestID)
		if err != nil {
			return err
		}
		if payment == nil {
			util.CallbacksTotal.WithLabelValues("unmatched").Inc()
			s.logger.Warn("Callback for unknown checkout request id, dead-lettering",
				zap.String("checkout_request_id", cb.CheckoutRequestID))
			return s.store.InsertUnmatchedCallback(ctx, cb.CheckoutRequestID, raw)
		}

		event := &models.PaymentEvent{
			PaymentID:         payment.ID,
			ReceivedAt:        time.Now(),
			ResultCode:        cb.ResultCode,
			ResultDescription: cb.ResultDesc,
			MerchantRequestID: cb.MerchantRequestID,
			CheckoutRequestID: cb.CheckoutRequestID,
			RawPayload:        raw,
		}

		outcome, err = s.applyCallback(ctx, tx, payment, &cb)
		if err != nil {
			return err
		}

		return s.store.InsertPaymentEvent(ctx, tx, event)
	})
	if err != nil {
		return err
	}

	_ = s.redis.InvalidatePaymentStatus(ctx, cb.CheckoutRequestID)
	if outcome != nil {
		s.publishOutcome(ctx, outcome)
	}
	return nil
}

// callbackOutcome captures what a callback changed, for metrics and
// event publication after the transaction commits.
type callbackOutcome struct {
	payment *models.Payment
	receipt string
	reason  string
}

// callbackAction is the disposition chosen for one callback delivery
// against the current payment state.
type callbackAction int

const (
	// actionReplay means the delivery repeats an outcome already applied;
	// the event is recorded and nothing changes.
	actionReplay callbackAction = iota
	actionComplete
	actionFail
	actionExpire
	// actionMismatch means the confirmed amount disagrees with the
	// payment; the payment stays pending for operator reconciliation.
	actionMismatch
	// actionStale means the provider confirmed a charge the payment can
	// no longer accept, such as after a local expiry.
	actionStale
)

// classifyCallback decides the disposition for a callback. Charged
// amounts are compared in whole provider units because the STK push is
// denominated in whole units; comparing minor amounts would reject every
// payment whose total is not a round unit.
func classifyCallback(payment *models.Payment, cb *mpesa.StkCallback) callbackAction {
	if payment.Status.Terminal() {
		return actionReplay
	}

	if cb.Success() {
		if units, ok := cb.AmountUnits(); ok && units != payment.Amount.Units() {
			return actionMismatch
		}
		if !payment.Status.CanTransition(models.PaymentCompleted) {
			return actionStale
		}
		return actionComplete
	}

	to := models.PaymentFailed
	if cb.Expired() {
		to = models.PaymentExpired
	}
	if !payment.Status.CanTransition(to) {
		return actionReplay
	}
	if to == models.PaymentExpired {
		return actionExpire
	}
	return actionFail
}

// applyCallback mutates payment, order and inventory state for one
// callback under the payment row lock. The PaymentEvent insert happens
// in the caller so every disposition appends exactly one event. Log-only
// dispositions return a nil outcome and the caller still acknowledges
// the delivery.
func (s *PaymentService) applyCallback(ctx context.Context, tx *sqlx.Tx, payment *models.Payment, cb *mpesa.StkCallback) (*callbackOutcome, error) {
	switch classifyCallback(payment, cb) {
	case actionReplay:
		util.CallbacksTotal.WithLabelValues("replay").Inc()
		return nil, nil

	case actionMismatch:
		amount, _ := cb.AmountUnits()
		util.CallbacksTotal.WithLabelValues("amount_mismatch").Inc()
		s.logger.Error("Callback amount does not match payment",
			zap.Int64("payment_id", payment.ID),
			zap.Int64("expected_units", payment.Amount.Units()),
			zap.Int64("got_units", amount))
		return nil, nil

	case actionStale:
		util.CallbacksTotal.WithLabelValues("stale_success").Inc()
		s.logger.Warn("Provider confirmed a payment already settled as failed or expired",
			zap.Int64("payment_id", payment.ID),
			zap.String("status", string(payment.Status)))
		return nil, nil

	case actionComplete:
		now := time.Now()
		if err := s.store.TransitionPaymentStatus(ctx, tx, payment, models.PaymentCompleted, &now); err != nil {
			return nil, err
		}
		if err := s.store.TransitionOrderStatus(ctx, tx, payment.OrderID, models.OrderProcessing); err != nil {
			return nil, err
		}

		receipt, _ := cb.Receipt()
		var receiptPtr *string
		if receipt != "" {
			receiptPtr = &receipt
		}
		if err := s.store.SettleTransaction(ctx, tx, cb.MerchantRequestID, txnStatusCompleted, receiptPtr); err != nil {
			return nil, err
		}

		util.CallbacksTotal.WithLabelValues("completed").Inc()
		util.PaymentsCompletedTotal.Inc()
		return &callbackOutcome{payment: payment, receipt: receipt}, nil
	}

	to := models.PaymentFailed
	reason := "declined"
	if cb.Expired() {
		to = models.PaymentExpired
		reason = "expired"
	}

	if err := s.store.TransitionPaymentStatus(ctx, tx, payment, to, nil); err != nil {
		return nil, err
	}
	if err := s.cancelOrderTx(ctx, tx, payment.OrderID); err != nil {
		return nil, err
	}
	if err := s.store.SettleTransaction(ctx, tx, cb.MerchantRequestID, txnStatusFailed, nil); err != nil {
		return nil, err
	}

	util.CallbacksTotal.WithLabelValues(reason).Inc()
	util.PaymentsFailedTotal.WithLabelValues(reason).Inc()
	return &callbackOutcome{payment: payment, reason: reason}, nil
}

// cancelOrderTx cancels a pending order and releases its reserved
// inventory in full.
func (s *PaymentService) cancelOrderTx(ctx context.Context, tx *sqlx.Tx, orderID int64) error {
	if err := s.store.TransitionOrderStatus(ctx, tx, orderID, models.OrderCancelled); err != nil {
		return err
	}
	if err := s.store.SetItemsShippingStatus(ctx, tx, orderID, models.ShippingCancelled); err != nil {
		return err
	}

	items, err := s.store.GetOrderItemsTx(ctx, tx, orderID)
	if err != nil {
		return err
	}
	return s.store.ReleaseStock(ctx, tx, items)
}

// ExpirePayment force-expires a payment stuck pending beyond the
// configured window. Called by the sweeper; a no-op when a callback
// settled the payment in between.
func (s *PaymentService) ExpirePayment(ctx context.Context, paymentID int64) error {
	var expired *models.Payment
	err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		payment, err := s.store.GetPaymentByIDForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if payment.Status != models.PaymentPending {
			return nil
		}

		if err := s.store.TransitionPaymentStatus(ctx, tx, payment, models.PaymentExpired, nil); err != nil {
			return err
		}
		if err := s.cancelOrderTx(ctx, tx, payment.OrderID); err != nil {
			return err
		}

		event := &models.PaymentEvent{
			PaymentID:         payment.ID,
			ReceivedAt:        time.Now(),
			ResultCode:        mpesa.ResultTimeout,
			ResultDescription: "payment expired: no provider confirmation",
			CheckoutRequestID: payment.ExternalTxnID,
		}
		if err := s.store.InsertPaymentEvent(ctx, tx, event); err != nil {
			return err
		}

		expired = payment
		return nil
	})
	if err != nil {
		return err
	}

	if expired != nil {
		_ = s.redis.InvalidatePaymentStatus(ctx, expired.ExternalTxnID)
		util.PaymentsSweptTotal.Inc()
		util.PaymentsFailedTotal.WithLabelValues("expired").Inc()
		s.publishPaymentFailed(ctx, expired, "expired")
	}
	return nil
}

func (s *PaymentService) publishOutcome(ctx context.Context, outcome *callbackOutcome) {
	if outcome.payment.Status == models.PaymentCompleted {
		event := &models.PaymentCompletedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentCompleted,
				Timestamp: time.Now(),
			},
			OrderID:   outcome.payment.OrderID,
			PaymentID: outcome.payment.ID,
			Amount:    outcome.payment.Amount,
			Receipt:   outcome.receipt,
		}
		if err := s.publisher.PublishPaymentCompleted(ctx, event); err != nil {
			s.logger.Error("Failed to publish PaymentCompleted event", zap.Error(err))
		}
		return
	}
	s.publishPaymentFailed(ctx, outcome.payment, outcome.reason)
}

func (s *PaymentService) publishPaymentFailed(ctx context.Context, payment *models.Payment, reason string) {
	event := &models.PaymentFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentFailed,
			Timestamp: time.Now(),
		},
		OrderID:   payment.OrderID,
		PaymentID: payment.ID,
		Reason:    reason,
	}
	if err := s.publisher.PublishPaymentFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish PaymentFailed event", zap.Error(err))
	}
}
