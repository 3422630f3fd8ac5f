package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mkorolev/storefront/internal/domain"
)

var ErrDuplicateOrderNumber = errors.New("order number already exists")

type OrderRepository interface {
	CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	GetOrderForUpdate(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (*domain.Order, error)
	ListUserOrders(ctx context.Context, userID int64) ([]*domain.Order, error)
	ListOrders(ctx context.Context) ([]*domain.Order, error)
	UpdateStatus(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, status domain.OrderStatus) error
	ReplaceItems(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	DeleteOrder(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) error
}

type PostgresOrderRepository struct {
	db *sql.DB
}

func NewPostgresOrderRepository(store *Store) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: store.DB()}
}

func (r *PostgresOrderRepository) CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, order_number, total_amount, status)
		 VALUES ($1, $2, $3, $4, $5)`,
		order.ID, order.UserID, order.OrderNumber, order.TotalAmount, order.Status)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateOrderNumber
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Items {
		it := &order.Items[i]
		it.OrderID = order.ID
		err := tx.QueryRowContext(ctx,
			`INSERT INTO order_items (order_id, product_id, product_name, price, quantity)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			it.OrderID, it.ProductID, it.ProductName, it.Price, it.Quantity).
			Scan(&it.ID)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

const orderColumns = `id, user_id, order_number, total_amount, status, created_at, updated_at`

func (r *PostgresOrderRepository) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)

	order, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	order.Items, err = r.listItems(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *PostgresOrderRepository) GetOrderForUpdate(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (*domain.Order, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID)

	order, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	order.Items, err = r.listItems(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func scanOrder(row *sql.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.UserID, &o.OrderNumber, &o.TotalAmount,
		&o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order row: %w", err)
	}
	return &o, nil
}

func (r *PostgresOrderRepository) listItems(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) ([]domain.OrderItem, error) {
	query := `SELECT id, order_id, product_id, product_name, price, quantity
	          FROM order_items WHERE order_id = $1 ORDER BY id`

	var rows *sql.Rows
	var err error
	if tx != nil {
		rows, err = tx.QueryContext(ctx, query, orderID)
	} else {
		rows, err = r.db.QueryContext(ctx, query, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName,
			&it.Price, &it.Quantity); err != nil {
			return nil, fmt.Errorf("scan order item row: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

func (r *PostgresOrderRepository) ListUserOrders(ctx context.Context, userID int64) ([]*domain.Order, error) {
	return r.list(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
}

func (r *PostgresOrderRepository) ListOrders(ctx context.Context) ([]*domain.Order, error) {
	return r.list(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
}

func (r *PostgresOrderRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.OrderNumber, &o.TotalAmount,
			&o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	for _, o := range orders {
		o.Items, err = r.listItems(ctx, nil, o.ID)
		if err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *PostgresOrderRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, status domain.OrderStatus) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`,
		orderID, status)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order status rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// ReplaceItems rewrites the order's line items and persisted total from the
// given aggregate. Snapshots keep their original product_name and price; only
// quantities and the derived total change.
func (r *PostgresOrderRepository) ReplaceItems(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
		return fmt.Errorf("delete order items: %w", err)
	}

	for i := range order.Items {
		it := &order.Items[i]
		err := tx.QueryRowContext(ctx,
			`INSERT INTO order_items (order_id, product_id, product_name, price, quantity)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			order.ID, it.ProductID, it.ProductName, it.Price, it.Quantity).
			Scan(&it.ID)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET total_amount = $2, updated_at = NOW() WHERE id = $1`,
		order.ID, order.TotalAmount); err != nil {
		return fmt.Errorf("update order total: %w", err)
	}
	return nil
}

func (r *PostgresOrderRepository) DeleteOrder(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete order rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}
