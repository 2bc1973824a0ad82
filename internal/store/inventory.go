package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"

	"github.com/Omwansam/furniture-backend/internal/errs"
	"github.com/Omwansam/furniture-backend/internal/models"
)

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if isNoRows(err) {
		return nil, errs.New(errs.NotFound, "PRODUCT_NOT_FOUND", fmt.Sprintf("product not found: %d", id))
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ReserveStock decrements stock for every line inside the given
// transaction. Product rows are locked FOR UPDATE in product_id ASC order
// so concurrent checkouts contending on the same products cannot
// deadlock. Either every line is reserved or none: any shortfall aborts
// with a StockUnavailableError listing all short lines.
func (s *Store) ReserveStock(ctx context.Context, tx *sqlx.Tx, lines []models.CartLine) error {
	ordered := make([]models.CartLine, len(lines))
	copy(ordered, lines)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ProductID < ordered[j].ProductID })

	var short []errs.InsufficientStockError
	for _, line := range ordered {
		var stock int
		err := tx.GetContext(ctx, &stock,
			"SELECT stock FROM products WHERE id = $1 FOR UPDATE", line.ProductID)
		if isNoRows(err) {
			return errs.New(errs.NotFound, "PRODUCT_NOT_FOUND", fmt.Sprintf("product not found: %d", line.ProductID))
		}
		if err != nil {
			return fmt.Errorf("failed to lock product %d: %w", line.ProductID, err)
		}

		if stock < line.Quantity {
			short = append(short, errs.InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: stock,
			})
		}
	}

	if len(short) > 0 {
		return &errs.StockUnavailableError{Lines: short}
	}

	for _, line := range ordered {
		_, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = stock - $1 WHERE id = $2",
			line.Quantity, line.ProductID)
		if err != nil {
			return fmt.Errorf("failed to reserve stock for product %d: %w", line.ProductID, err)
		}
	}
	return nil
}

// ReleaseStock returns reserved quantities to the given products inside
// the transaction. Used on cancellation before fulfilment.
func (s *Store) ReleaseStock(ctx context.Context, tx *sqlx.Tx, items []models.OrderItem) error {
	return s.incrementStock(ctx, tx, items, false)
}

// RestockItems returns quantities for refund-flagged items only. Used on
// approved refunds with the restock flag.
func (s *Store) RestockItems(ctx context.Context, tx *sqlx.Tx, items []models.OrderItem) error {
	return s.incrementStock(ctx, tx, items, true)
}

func (s *Store) incrementStock(ctx context.Context, tx *sqlx.Tx, items []models.OrderItem, refundOnly bool) error {
	ordered := make([]models.OrderItem, len(items))
	copy(ordered, items)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ProductID < ordered[j].ProductID })

	for _, item := range ordered {
		if refundOnly && !item.RefundRequested {
			continue
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = stock + $1 WHERE id = $2",
			item.Quantity, item.ProductID)
		if err != nil {
			return fmt.Errorf("failed to restore stock for product %d: %w", item.ProductID, err)
		}
	}
	return nil
}
