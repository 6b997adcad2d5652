package postgresrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/backend-labs/fulfillment/internal/dal/postgres"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/apperr"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/order"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/orderitem"
	"github.com/jackc/pgx/v5"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// claimStaleSQL stamps stale orders so the next sweep skips them until the request itself goes stale.
const claimStaleSQL = `
UPDATE orders
SET expiry_requested_at = $1
WHERE id IN (
    SELECT id FROM orders
    WHERE status = $2
      AND created_at < $3
      AND (expiry_requested_at IS NULL OR expiry_requested_at < $3)
    ORDER BY created_at
    LIMIT $4
    FOR UPDATE SKIP LOCKED
)
RETURNING id, user_id, status, created_at, updated_at, expiry_requested_at`

// OrderRepository implements iorderrepo.IOrderRepository on PostgreSQL.
type OrderRepository struct {
	db postgres.DB
}

func NewOrderRepository(db postgres.DB) *OrderRepository {
	return &OrderRepository{
		db: db,
	}
}

// Create inserts the order and its items in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o order.Order) error {
	orderQuery, orderArgs, err := psql.Insert("orders").
		Columns("id", "user_id", "status", "created_at", "updated_at").
		Values(o.ID, o.UserID, o.Status.String(), o.CreatedAt, o.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert order query: %w", err)
	}

	itemsBuilder := psql.Insert("order_items").Columns("order_id", "position", "product_id", "quantity")
	for i, item := range o.Items {
		itemsBuilder = itemsBuilder.Values(o.ID, i, item.ProductID, item.Quantity)
	}
	itemsQuery, itemsArgs, err := itemsBuilder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert order items query: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.Exec(ctx, orderQuery, orderArgs...); err != nil {
		_ = tx.Rollback(ctx)

		return fmt.Errorf("failed to insert order: %w", err)
	}

	if _, err := tx.Exec(ctx, itemsQuery, itemsArgs...); err != nil {
		_ = tx.Rollback(ctx)

		return fmt.Errorf("failed to insert order items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit order: %w", err)
	}

	return nil
}

// Get retrieves an order with its items in their original order.
func (r *OrderRepository) Get(ctx context.Context, id string) (order.Order, error) {
	query, args, err := psql.Select("id", "user_id", "status", "created_at", "updated_at").
		From("orders").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return order.Order{}, fmt.Errorf("failed to build select order query: %w", err)
	}

	var (
		o      order.Order
		status string
	)
	err = r.db.QueryRow(ctx, query, args...).Scan(&o.ID, &o.UserID, &status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return order.Order{}, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return order.Order{}, fmt.Errorf("failed to select order: %w", err)
	}

	o.Status, err = order.ParseStatus(status)
	if err != nil {
		return order.Order{}, err
	}

	o.Items, err = r.items(ctx, id)
	if err != nil {
		return order.Order{}, err
	}

	return o, nil
}

func (r *OrderRepository) items(ctx context.Context, orderID string) ([]orderitem.OrderItem, error) {
	query, args, err := psql.Select("product_id", "quantity").
		From("order_items").
		Where(sq.Eq{"order_id": orderID}).
		OrderBy("position ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select order items query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var items []orderitem.OrderItem
	for rows.Next() {
		var item orderitem.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order items: %w", err)
	}

	return items, nil
}

// CompareAndSetStatus updates the status only if the order is still in from.
func (r *OrderRepository) CompareAndSetStatus(ctx context.Context, id string, from, to order.Status) (bool, error) {
	query, args, err := psql.Update("orders").
		Set("status", to.String()).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": id, "status": from.String()}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build update order status query: %w", err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// Delete removes the order; its items are removed by the foreign key cascade.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	query, args, err := psql.Delete("orders").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete order query: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}

	return nil
}

// ClaimStalePending stamps and returns PENDING orders created before olderThan.
func (r *OrderRepository) ClaimStalePending(ctx context.Context, olderThan, now time.Time, limit int) ([]order.Order, error) {
	rows, err := r.db.Query(ctx, claimStaleSQL, now, order.StatusPending.String(), olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim stale orders: %w", err)
	}
	defer rows.Close()

	var orders []order.Order
	for rows.Next() {
		var (
			o      order.Order
			status string
		)
		err := rows.Scan(&o.ID, &o.UserID, &status, &o.CreatedAt, &o.UpdatedAt, &o.ExpiryRequestedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.Status = order.Status(status)
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale orders: %w", err)
	}

	return orders, nil
}
