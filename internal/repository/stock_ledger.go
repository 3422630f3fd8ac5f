package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/mkorolev/storefront/internal/domain"
)

// StockLedger is the sole authority over the products.quantity column.
// Mutations run against a *sql.Tx so they commit together with the cart or
// order rows they belong to.
type StockLedger interface {
	// LockProducts reads the given products under FOR UPDATE, always in
	// ascending id order so overlapping transactions cannot deadlock.
	LockProducts(ctx context.Context, tx *sql.Tx, productIDs []int64) (map[int64]*domain.Product, error)
	// Reserve decrements available stock, failing with
	// *domain.InsufficientStockError when fewer than quantity units remain.
	Reserve(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error
	// Release returns quantity units to available stock.
	Release(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error
	GetProduct(ctx context.Context, productID int64) (*domain.Product, error)
}

type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(store *Store) *PostgresLedger {
	return &PostgresLedger{db: store.DB()}
}

func (l *PostgresLedger) LockProducts(ctx context.Context, tx *sql.Tx, productIDs []int64) (map[int64]*domain.Product, error) {
	query := `SELECT id, name, price, quantity, created_at, updated_at
	          FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	rows, err := tx.QueryContext(ctx, query, pq.Array(productIDs))
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	defer rows.Close()

	products := make(map[int64]*domain.Product, len(productIDs))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Quantity, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products[p.ID] = &p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return products, nil
}

func (l *PostgresLedger) Reserve(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	// Guarded decrement: the availability check and the write are one
	// statement, so a concurrent transaction can never slip in between.
	res, err := tx.ExecContext(ctx,
		`UPDATE products SET quantity = quantity - $2, updated_at = NOW()
		 WHERE id = $1 AND quantity >= $2`,
		productID, quantity)
	if err != nil {
		return fmt.Errorf("reserve stock for product %d: %w", productID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve stock rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var name string
	var available int
	err = tx.QueryRowContext(ctx,
		`SELECT name, quantity FROM products WHERE id = $1`, productID).
		Scan(&name, &available)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrProductNotFound
	}
	if err != nil {
		return fmt.Errorf("read stock for product %d: %w", productID, err)
	}

	return &domain.InsufficientStockError{
		ProductID:   productID,
		ProductName: name,
		Requested:   quantity,
		Available:   available,
	}
}

func (l *PostgresLedger) Release(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE products SET quantity = quantity + $2, updated_at = NOW() WHERE id = $1`,
		productID, quantity)
	if err != nil {
		return fmt.Errorf("release stock for product %d: %w", productID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release stock rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (l *PostgresLedger) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	var p domain.Product
	err := l.db.QueryRowContext(ctx,
		`SELECT id, name, price, quantity, created_at, updated_at FROM products WHERE id = $1`,
		productID).
		Scan(&p.ID, &p.Name, &p.Price, &p.Quantity, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product by id: %w", err)
	}
	return &p, nil
}

// CreateProduct exists for the admin collaborator and for seeding; the core
// never creates products itself.
func (l *PostgresLedger) CreateProduct(ctx context.Context, p *domain.Product) error {
	err := l.db.QueryRowContext(ctx,
		`INSERT INTO products (name, price, quantity) VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		p.Name, p.Price, p.Quantity).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}
