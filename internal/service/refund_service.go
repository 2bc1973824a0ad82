package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Omwansam/furniture-backend/internal/broker"
	"github.com/Omwansam/furniture-backend/internal/errs"
	"github.com/Omwansam/furniture-backend/internal/models"
	"github.com/Omwansam/furniture-backend/internal/money"
	"github.com/Omwansam/furniture-backend/internal/store"
	"github.com/Omwansam/furniture-backend/internal/util"
)

const (
	RefundActionApprove = "approve"
	RefundActionReject  = "reject"
)

// RefundService runs the return flow: a customer requests a return on a
// delivered order, an admin rejects it or approves it, and approval
// refunds the payment and optionally restocks the returned items.
type RefundService struct {
	store     *store.Store
	publisher *broker.EventPublisher
	logger    *zap.Logger
}

// NewRefundService creates a new refund service
func NewRefundService(store *store.Store, publisher *broker.EventPublisher) *RefundService {
	return &RefundService{
		store:     store,
		publisher: publisher,
		logger:    util.NamedLogger("refunds"),
	}
}

// RequestReturn opens a return request for a delivered order. At most
// one request exists per order; itemIDs narrows the request to specific
// items, empty means the whole order.
func (s *RefundService) RequestReturn(ctx context.Context, orderID, userID int64, reason string, itemIDs []int64) (*models.Refund, error) {
	ctx, span := util.StartSpan(ctx, "RefundService.RequestReturn")
	defer span.End()

	if reason == "" {
		return nil, errs.New(errs.Validation, "MISSING_REASON", "a return reason is required")
	}

	var refund *models.Refund
	err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		order, err := s.store.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return errs.ErrOrderNotFound
		}
		if order.Status != models.OrderDelivered {
			return errs.New(errs.BusinessRule, "NOT_RETURNABLE",
				"only delivered orders can be returned")
		}

		refund = &models.Refund{
			OrderID: orderID,
			UserID:  userID,
			Reason:  reason,
			Status:  models.RefundRequested,
		}
		if err := s.store.CreateRefund(ctx, tx, refund); err != nil {
			return err
		}
		return s.store.MarkItemsRefundRequested(ctx, tx, orderID, itemIDs)
	})
	if err != nil {
		return nil, err
	}

	util.RefundsRequestedTotal.Inc()
	s.logger.Info("Return requested",
		zap.Int64("order_id", orderID),
		zap.Int64("refund_id", refund.ID))
	return refund, nil
}

// ProcessResult reports the outcome of an admin decision.
type ProcessResult struct {
	Refund   *models.Refund `json:"refund"`
	Refunded money.Money    `json:"refunded"`
}

// ProcessReturn applies an admin decision to a requested return.
// Rejection only records the decision and notes. Approval steps the
// refund through approved, refunds the completed payment, moves the
// order to returned, optionally restocks the returned items, and lands
// on processed with the processing timestamp.
func (s *RefundService) ProcessReturn(ctx context.Context, refundID int64, action string, notes *string, restock bool) (*ProcessResult, error) {
	ctx, span := util.StartSpan(ctx, "RefundService.ProcessReturn")
	defer span.End()

	var (
		refund   *models.Refund
		refunded money.Money
	)
	err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		refund, err = s.store.GetRefundForUpdate(ctx, tx, refundID)
		if err != nil {
			return err
		}
		if refund.Status != models.RefundRequested {
			return errs.New(errs.Conflict, "ALREADY_PROCESSED",
				"the return request has already been processed")
		}

		switch action {
		case RefundActionReject:
			// rejection records the decision and nothing else; no money
			// moved, so processed_at stays unset
			return s.store.TransitionRefund(ctx, tx, refund, models.RefundRejected, notes, nil)
		case RefundActionApprove:
			if err := s.store.TransitionRefund(ctx, tx, refund, models.RefundApproved, notes, nil); err != nil {
				return err
			}
			refunded, err = s.approve(ctx, tx, refund, restock)
			if err != nil {
				return err
			}
			now := time.Now()
			return s.store.TransitionRefund(ctx, tx, refund, models.RefundProcessed, nil, &now)
		default:
			return errs.New(errs.Validation, "BAD_ACTION",
				"action must be approve or reject")
		}
	})
	if err != nil {
		return nil, err
	}

	util.RefundsProcessedTotal.WithLabelValues(action).Inc()
	s.logger.Info("Return processed",
		zap.Int64("refund_id", refundID),
		zap.String("action", action),
		zap.String("refunded", refunded.String()))

	if action == RefundActionApprove {
		s.publishRefundProcessed(ctx, refund, refunded, restock)
	}
	return &ProcessResult{Refund: refund, Refunded: refunded}, nil
}

// approve refunds the payment and settles order and inventory state.
func (s *RefundService) approve(ctx context.Context, tx *sqlx.Tx, refund *models.Refund, restock bool) (money.Money, error) {
	payment, err := s.store.GetPaymentByOrderForUpdate(ctx, tx, refund.OrderID)
	if err != nil {
		return 0, err
	}
	if payment == nil || payment.Status != models.PaymentCompleted {
		return 0, errs.New(errs.BusinessRule, "NOT_REFUNDABLE",
			"the order has no completed payment to refund")
	}

	if err := s.store.TransitionPaymentStatus(ctx, tx, payment, models.PaymentRefunded, nil); err != nil {
		return 0, err
	}
	if err := s.store.TransitionOrderStatus(ctx, tx, refund.OrderID, models.OrderReturned); err != nil {
		return 0, err
	}

	if restock {
		items, err := s.store.GetOrderItemsTx(ctx, tx, refund.OrderID)
		if err != nil {
			return 0, err
		}
		if err := s.store.RestockItems(ctx, tx, items); err != nil {
			return 0, err
		}
	}
	return payment.Amount, nil
}

func (s *RefundService) publishRefundProcessed(ctx context.Context, refund *models.Refund, amount money.Money, restock bool) {
	event := &models.RefundProcessedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeRefundProcessed,
			Timestamp: time.Now(),
		},
		OrderID:  refund.OrderID,
		RefundID: refund.ID,
		Amount:   amount,
		Restock:  restock,
	}
	if err := s.publisher.PublishRefundProcessed(ctx, event); err != nil {
		s.logger.Error("Failed to publish RefundProcessed event", zap.Error(err))
	}
}
