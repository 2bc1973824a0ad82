package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Omwansam/furniture-backend/internal/errs"
	"github.com/Omwansam/furniture-backend/internal/models"
)

// CreateOrder inserts a new order inside the checkout transaction.
// Pricing fields are immutable after this insert; only status changes
// later.
func (s *Store) CreateOrder(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, status, shipping_address, subtotal, shipping_cost, discount, tax, total, coupon_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	return tx.GetContext(ctx, order, query,
		order.UserID, order.Status, order.ShippingAddress,
		order.Subtotal, order.ShippingCost, order.Discount, order.Tax, order.Total,
		order.CouponCode)
}

// CreateOrderItem inserts one order line with its price snapshot and
// allocated shipping/discount shares.
func (s *Store) CreateOrderItem(ctx context.Context, tx *sqlx.Tx, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price, line_discount, line_shipping, line_tax, shipping_status, refund_requested)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false)
		RETURNING id`

	return tx.GetContext(ctx, &item.ID, query,
		item.OrderID, item.ProductID, item.Quantity, item.UnitPrice,
		item.LineDiscount, item.LineShipping, item.LineTax, item.ShippingStatus)
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if isNoRows(err) {
		return nil, errs.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderForUpdate locks and retrieves an order row inside a transaction.
func (s *Store) GetOrderForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Order, error) {
	var order models.Order
	err := tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if isNoRows(err) {
		return nil, errs.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUserID retrieves orders for a user, newest first
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// GetOrderItems retrieves all items for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// GetOrderItemsTx retrieves order items inside a transaction.
func (s *Store) GetOrderItemsTx(ctx context.Context, tx *sqlx.Tx, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := tx.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// TransitionOrderStatus moves an order to a new status inside the
// transaction, rejecting illegal transitions at the type boundary. The
// row is locked first so concurrent transitions serialize.
func (s *Store) TransitionOrderStatus(ctx context.Context, tx *sqlx.Tx, orderID int64, to models.OrderStatus) error {
	order, err := s.GetOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return err
	}

	if !order.Status.CanTransition(to) {
		return errs.New(errs.BusinessRule, "ILLEGAL_TRANSITION",
			fmt.Sprintf("order %d cannot move from %s to %s", orderID, order.Status, to))
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		to, orderID)
	return err
}

// SetItemsShippingStatus propagates an order-level transition to every
// item of the order.
func (s *Store) SetItemsShippingStatus(ctx context.Context, tx *sqlx.Tx, orderID int64, status models.ShippingStatus) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE order_items SET shipping_status = $1 WHERE order_id = $2",
		status, orderID)
	return err
}

// MarkItemsRefundRequested flags the given items (all items when ids is
// empty) as awaiting refund.
func (s *Store) MarkItemsRefundRequested(ctx context.Context, tx *sqlx.Tx, orderID int64, itemIDs []int64) error {
	if len(itemIDs) == 0 {
		_, err := tx.ExecContext(ctx,
			"UPDATE order_items SET refund_requested = true WHERE order_id = $1", orderID)
		return err
	}

	query, args, err := sqlx.In(
		"UPDATE order_items SET refund_requested = true WHERE order_id = ? AND id IN (?)",
		orderID, itemIDs)
	if err != nil {
		return err
	}
	query = tx.Rebind(query)
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}
