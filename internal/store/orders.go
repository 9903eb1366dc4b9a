package store

import (
	"context"
	"database/sql"
	"fmt"

	"marketplace-orders/internal/models"
)

// InsertOrder persists a new order inside the caller's transaction. The
// generated id and timestamps are written back onto order.
func (s *Store) InsertOrder(ctx context.Context, uow *UnitOfWork, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, order_type, total_price, shipping_address, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	return uow.tx.QueryRowxContext(ctx, query,
		order.UserID, order.OrderType, order.TotalPrice, order.ShippingAddress,
		order.Status, order.IdempotencyKey,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
}

// InsertOrderItems persists the order's line items in input order.
func (s *Store) InsertOrderItems(ctx context.Context, uow *UnitOfWork, orderID int64, items []models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, item_index, ref_id, variant_id, seat_zone_id, price_at_order, quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	for i := range items {
		item := &items[i]
		item.OrderID = orderID
		item.ItemIndex = i
		err := uow.tx.QueryRowxContext(ctx, query,
			orderID, item.ItemIndex, item.RefID, item.VariantID, item.SeatZoneID,
			item.PriceAtOrder, item.Quantity,
		).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("failed to insert order item %d: %w", i, err)
		}
	}
	return nil
}

// GetOrderForUpdate loads an order and its items with a row lock on the order
// held until commit.
func (s *Store) GetOrderForUpdate(ctx context.Context, uow *UnitOfWork, id int64) (*models.Order, error) {
	var order models.Order
	err := uow.tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	err = uow.tx.SelectContext(ctx, &order.Items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY item_index", id)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus updates order status inside the caller's transaction.
func (s *Store) UpdateOrderStatus(ctx context.Context, uow *UnitOfWork, orderID int64, status models.OrderStatus) error {
	_, err := uow.tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}

// GetOrderByID retrieves an order and its items outside any transaction.
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	err = s.db.SelectContext(ctx, &order.Items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY item_index", id)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key, or nil when
// no order carries the key.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	err = s.db.SelectContext(ctx, &order.Items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY item_index", order.ID)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUserID retrieves a user's orders, newest first.
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}
