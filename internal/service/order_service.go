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
	"github.com/Omwansam/furniture-backend/internal/store"
	"github.com/Omwansam/furniture-backend/internal/util"
)

// OrderService serves order reads and the fulfilment transitions that
// admins drive. Customer-visible state changes go through the status
// machine; illegal jumps are rejected at the store layer.
type OrderService struct {
	store     *store.Store
	publisher *broker.EventPublisher
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store *store.Store, publisher *broker.EventPublisher) *OrderService {
	return &OrderService{
		store:     store,
		publisher: publisher,
		logger:    util.NamedLogger("orders"),
	}
}

// OrderDetail is an order with its line items.
type OrderDetail struct {
	Order models.Order       `json:"order"`
	Items []models.OrderItem `json:"items"`
}

// GetOrder returns one order with items, scoped to the owning user.
// Admins pass userID 0 to skip the ownership check.
func (s *OrderService) GetOrder(ctx context.Context, orderID, userID int64) (*OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if userID != 0 && order.UserID != userID {
		return nil, errs.ErrOrderNotFound
	}

	items, err := s.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderDetail{Order: *order, Items: items}, nil
}

// ListOrders returns a user's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.store.GetOrdersByUserID(ctx, userID)
}

// MarkShipped moves a processing order to shipped and propagates the
// state to every non-cancelled item.
func (s *OrderService) MarkShipped(ctx context.Context, orderID int64) error {
	return s.fulfil(ctx, orderID, models.OrderShipped, models.ShippingShipped)
}

// MarkDelivered moves a shipped order to delivered.
func (s *OrderService) MarkDelivered(ctx context.Context, orderID int64) error {
	return s.fulfil(ctx, orderID, models.OrderDelivered, models.ShippingDelivered)
}

func (s *OrderService) fulfil(ctx context.Context, orderID int64, to models.OrderStatus, shipping models.ShippingStatus) error {
	ctx, span := util.StartSpan(ctx, "OrderService.fulfil")
	defer span.End()

	err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.store.TransitionOrderStatus(ctx, tx, orderID, to); err != nil {
			return err
		}
		return s.store.SetItemsShippingStatus(ctx, tx, orderID, shipping)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Order fulfilment advanced",
		zap.Int64("order_id", orderID),
		zap.String("status", string(to)))
	return nil
}

// CancelOrder cancels a pending order: the reservation is released in
// full, items are marked cancelled and any pending payment is failed.
// Paid orders cannot be cancelled; they go through the return flow.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, userID int64) error {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	var order *models.Order
	err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		order, err = s.store.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if userID != 0 && order.UserID != userID {
			return errs.ErrOrderNotFound
		}
		if order.Status != models.OrderPending {
			return errs.New(errs.BusinessRule, "NOT_CANCELLABLE",
				"only pending orders can be cancelled")
		}

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
		if err := s.store.ReleaseStock(ctx, tx, items); err != nil {
			return err
		}

		payment, err := s.store.GetPaymentByOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if payment != nil && payment.Status == models.PaymentPending {
			return s.store.TransitionPaymentStatus(ctx, tx, payment, models.PaymentFailed, nil)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Order cancelled", zap.Int64("order_id", orderID))
	s.publishOrderCancelled(ctx, order)
	return nil
}

func (s *OrderService) publishOrderCancelled(ctx context.Context, order *models.Order) {
	event := &models.OrderCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCancelled,
			Timestamp: time.Now(),
		},
		OrderID: order.ID,
		Reason:  "user_cancelled",
	}
	if err := s.publisher.PublishOrderCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
	}
}

// AdminTransition applies an arbitrary status change requested by an
// operator, still guarded by the transition map.
func (s *OrderService) AdminTransition(ctx context.Context, orderID int64, to models.OrderStatus) error {
	switch to {
	case models.OrderShipped:
		return s.MarkShipped(ctx, orderID)
	case models.OrderDelivered:
		return s.MarkDelivered(ctx, orderID)
	case models.OrderCancelled:
		return s.CancelOrder(ctx, orderID, 0)
	default:
		return s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
			return s.store.TransitionOrderStatus(ctx, tx, orderID, to)
		})
	}
}
