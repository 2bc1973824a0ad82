package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/Omwansam/furniture-backend/internal/models"
)

// GetCartLines reads the user's cart for checkout: product id, quantity
// and the current product price as the snapshot price. Cart mutation is
// handled by the catalog side of the application.
func (s *Store) GetCartLines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	var lines []models.CartLine
	err := s.db.SelectContext(ctx, &lines, `
		SELECT ci.product_id, ci.quantity, p.unit_price
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.user_id = $1
		ORDER BY ci.product_id`, userID)
	return lines, err
}

// ClearCart removes all cart rows for the user inside the checkout
// transaction.
func (s *Store) ClearCart(ctx context.Context, tx *sqlx.Tx, userID int64) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE user_id = $1", userID)
	return err
}
