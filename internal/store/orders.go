package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// CreateOrderWithItems persists the order and its item snapshots in one transaction
func (s *Store) CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (
			id, store_id, user_id, email, status, is_paid, payment_method, shipping_method,
			subtotal, tax, discount, shipping_cost, total,
			shipping_name, shipping_phone, shipping_address, shipping_ward, shipping_district,
			shipping_city, shipping_country, coupon_code, customer_note
		) VALUES (
			:id, :store_id, :user_id, :email, :status, :is_paid, :payment_method, :shipping_method,
			:subtotal, :tax, :discount, :shipping_cost, :total,
			:shipping_name, :shipping_phone, :shipping_address, :shipping_ward, :shipping_district,
			:shipping_city, :shipping_country, :coupon_code, :customer_note
		) RETURNING created_at, updated_at`

	rows, err := sqlx.NamedQueryContext(ctx, tx, query, order)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	if rows.Next() {
		if err := rows.Scan(&order.CreatedAt, &order.UpdatedAt); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan order timestamps: %w", err)
		}
	}
	rows.Close()

	itemQuery := `
		INSERT INTO order_items (
			order_id, product_id, product_name, image_url, variant_id,
			size_id, size_name, color_id, color_name, material_id, material_name,
			resolved_by, unit_price, quantity, line_total
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`

	for i := range items {
		item := &items[i]
		item.OrderID = order.ID
		err := tx.QueryRowxContext(ctx, itemQuery,
			item.OrderID, item.ProductID, item.ProductName, item.ImageURL, item.VariantID,
			item.SizeID, item.SizeName, item.ColorID, item.ColorName, item.MaterialID, item.MaterialName,
			item.ResolvedBy, item.UnitPrice, item.Quantity, item.LineTotal,
		).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFoundf("order %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// MarkOrderPaid flips an unpaid PENDING order into paid PROCESSING.
// Only one caller ever observes true for a given order.
func (s *Store) MarkOrderPaid(ctx context.Context, orderID, txID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET is_paid = TRUE, status = $2, paid_at = NOW(), updated_at = NOW(),
		    transaction_id = COALESCE(NULLIF($3, ''), transaction_id)
		WHERE id = $1 AND is_paid = FALSE AND status = $4`,
		orderID, models.OrderStatusProcessing, txID, models.OrderStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetTransactionID stores the provider payment handle on the order
func (s *Store) SetTransactionID(ctx context.Context, orderID, txID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET transaction_id = $1, updated_at = NOW() WHERE id = $2",
		txID, orderID)
	return err
}

// TransitionOrderStatus moves the order to status `to` only if it is currently in one of `from`
func (s *Store) TransitionOrderStatus(ctx context.Context, orderID string, from []models.OrderStatus, to models.OrderStatus) (bool, error) {
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    cancelled_at = CASE WHEN $1::text = 'CANCELLED' THEN NOW() ELSE cancelled_at END,
		    updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)`,
		to, orderID, pq.Array(allowed))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListOrdersByUserID retrieves orders for a user
func (s *Store) ListOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// ListStalePendingOrders returns unpaid PENDING orders created before the cutoff
func (s *Store) ListStalePendingOrders(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, `
		SELECT * FROM orders
		WHERE status = $1 AND is_paid = FALSE AND created_at < $2
		ORDER BY created_at
		LIMIT $3`,
		models.OrderStatusPending, before, limit)
	return orders, err
}

// LinkGuestOrdersByEmail attaches guest orders to userID.
// With caseInsensitive the comparison is done on lower-cased emails.
func (s *Store) LinkGuestOrdersByEmail(ctx context.Context, userID, email string, caseInsensitive bool) (int64, error) {
	query := "UPDATE orders SET user_id = $1, updated_at = NOW() WHERE user_id IS NULL AND email = $2"
	if caseInsensitive {
		query = "UPDATE orders SET user_id = $1, updated_at = NOW() WHERE user_id IS NULL AND LOWER(email) = LOWER($2)"
	}

	res, err := s.db.ExecContext(ctx, query, userID, email)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
