package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mkorolev/storefront/internal/domain"
)

// CartRepository persists carts and their line items and resolves cart
// identity. A missing cart is reported as (nil, nil), not as an error.
type CartRepository interface {
	ResolveCart(ctx context.Context, tx *sql.Tx, owner domain.CartOwner, createIfAbsent bool) (*domain.Cart, error)
	LockCart(ctx context.Context, tx *sql.Tx, owner domain.CartOwner) (*domain.Cart, error)
	GetCart(ctx context.Context, owner domain.CartOwner) (*domain.Cart, error)
	UpsertItem(ctx context.Context, tx *sql.Tx, cartID, productID int64, delta int, priceAtAddition decimal.Decimal) (int, error)
	SetItemQuantity(ctx context.Context, tx *sql.Tx, cartID, productID int64, quantity int) error
	GetItemQuantity(ctx context.Context, tx *sql.Tx, cartID, productID int64) (int, error)
	RemoveItem(ctx context.Context, tx *sql.Tx, cartID, productID int64) error
	ListItems(ctx context.Context, tx *sql.Tx, cartID int64) ([]domain.CartItem, error)
	ListItemsDetailed(ctx context.Context, cartID int64) ([]domain.CartViewItem, error)
	Clear(ctx context.Context, tx *sql.Tx, cartID int64) error
}

type PostgresCartRepository struct {
	db *sql.DB
}

func NewPostgresCartRepository(store *Store) *PostgresCartRepository {
	return &PostgresCartRepository{db: store.DB()}
}

const cartColumns = `id, COALESCE(user_id, 0), COALESCE(guest_token::text, ''), created_at, updated_at`

func (r *PostgresCartRepository) ResolveCart(ctx context.Context, tx *sql.Tx, owner domain.CartOwner, createIfAbsent bool) (*domain.Cart, error) {
	cart, err := scanCart(r.queryCartRow(ctx, tx, owner))
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query cart: %w", err)
	}
	if !createIfAbsent {
		return nil, nil
	}

	// Carts are created lazily on the first mutation attempt. ON CONFLICT
	// handles the race where two requests create the same owner's cart.
	var row *sql.Row
	if owner.IsUser() {
		row = tx.QueryRowContext(ctx,
			`INSERT INTO carts (user_id) VALUES ($1)
			 ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
			 RETURNING `+cartColumns,
			owner.UserID)
	} else {
		row = tx.QueryRowContext(ctx,
			`INSERT INTO carts (guest_token) VALUES ($1)
			 ON CONFLICT (guest_token) DO UPDATE SET updated_at = NOW()
			 RETURNING `+cartColumns,
			owner.GuestToken)
	}

	cart, err = scanCart(row)
	if err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	return cart, nil
}

// LockCart takes the cart row lock for the owner, serializing transactions
// that consume the whole cart. A blocked waiter re-evaluates after the holder
// commits, so a cart deleted by the holder resolves to (nil, nil) here.
func (r *PostgresCartRepository) LockCart(ctx context.Context, tx *sql.Tx, owner domain.CartOwner) (*domain.Cart, error) {
	var row *sql.Row
	if owner.IsUser() {
		row = tx.QueryRowContext(ctx,
			`SELECT `+cartColumns+` FROM carts WHERE user_id = $1 FOR UPDATE`, owner.UserID)
	} else {
		row = tx.QueryRowContext(ctx,
			`SELECT `+cartColumns+` FROM carts WHERE guest_token = $1 FOR UPDATE`, owner.GuestToken)
	}

	cart, err := scanCart(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock cart: %w", err)
	}
	return cart, nil
}

func (r *PostgresCartRepository) GetCart(ctx context.Context, owner domain.CartOwner) (*domain.Cart, error) {
	cart, err := scanCart(r.queryCartRow(ctx, nil, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}
	return cart, nil
}

func (r *PostgresCartRepository) queryCartRow(ctx context.Context, tx *sql.Tx, owner domain.CartOwner) *sql.Row {
	var q interface {
		QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	} = r.db
	if tx != nil {
		q = tx
	}

	if owner.IsUser() {
		return q.QueryRowContext(ctx,
			`SELECT `+cartColumns+` FROM carts WHERE user_id = $1`, owner.UserID)
	}
	return q.QueryRowContext(ctx,
		`SELECT `+cartColumns+` FROM carts WHERE guest_token = $1`, owner.GuestToken)
}

func scanCart(row *sql.Row) (*domain.Cart, error) {
	var c domain.Cart
	if err := row.Scan(&c.ID, &c.UserID, &c.GuestToken, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertItem adds delta to the line for (cartID, productID), creating it when
// absent. The resulting quantity is returned; a result of zero or less deletes
// the line, so a non-positive quantity is never stored.
func (r *PostgresCartRepository) UpsertItem(ctx context.Context, tx *sql.Tx, cartID, productID int64, delta int, priceAtAddition decimal.Decimal) (int, error) {
	current, err := r.GetItemQuantity(ctx, tx, cartID, productID)
	if err != nil {
		return 0, err
	}

	next := current + delta
	if next <= 0 {
		if current > 0 {
			if err := r.RemoveItem(ctx, tx, cartID, productID); err != nil {
				return 0, err
			}
		}
		return 0, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO cart_items (cart_id, product_id, quantity, price_at_addition)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (cart_id, product_id)
		 DO UPDATE SET quantity = $3, updated_at = NOW()`,
		cartID, productID, next, priceAtAddition)
	if err != nil {
		return 0, fmt.Errorf("upsert cart item: %w", err)
	}
	return next, nil
}

func (r *PostgresCartRepository) SetItemQuantity(ctx context.Context, tx *sql.Tx, cartID, productID int64, quantity int) error {
	if quantity <= 0 {
		return r.RemoveItem(ctx, tx, cartID, productID)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE cart_items SET quantity = $3, updated_at = NOW()
		 WHERE cart_id = $1 AND product_id = $2`,
		cartID, productID, quantity)
	if err != nil {
		return fmt.Errorf("set cart item quantity: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set cart item rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrCartItemNotFound
	}
	return nil
}

// GetItemQuantity returns 0 when the line does not exist; stored lines always
// have a positive quantity.
func (r *PostgresCartRepository) GetItemQuantity(ctx context.Context, tx *sql.Tx, cartID, productID int64) (int, error) {
	var quantity int
	err := tx.QueryRowContext(ctx,
		`SELECT quantity FROM cart_items WHERE cart_id = $1 AND product_id = $2 FOR UPDATE`,
		cartID, productID).
		Scan(&quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query cart item quantity: %w", err)
	}
	return quantity, nil
}

func (r *PostgresCartRepository) RemoveItem(ctx context.Context, tx *sql.Tx, cartID, productID int64) error {
	res, err := tx.ExecContext(ctx,
		`DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`,
		cartID, productID)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete cart item rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrCartItemNotFound
	}
	return nil
}

func (r *PostgresCartRepository) ListItems(ctx context.Context, tx *sql.Tx, cartID int64) ([]domain.CartItem, error) {
	query := `SELECT id, cart_id, product_id, quantity, price_at_addition, created_at, updated_at
	          FROM cart_items WHERE cart_id = $1 ORDER BY product_id`

	var rows *sql.Rows
	var err error
	if tx != nil {
		rows, err = tx.QueryContext(ctx, query, cartID)
	} else {
		rows, err = r.db.QueryContext(ctx, query, cartID)
	}
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()

	var items []domain.CartItem
	for rows.Next() {
		var it domain.CartItem
		if err := rows.Scan(&it.ID, &it.CartID, &it.ProductID, &it.Quantity,
			&it.PriceAtAddition, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cart item row: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

// ListItemsDetailed joins live product data for the cart view. Lines whose
// product disappeared from the catalog are dropped from the result.
func (r *PostgresCartRepository) ListItemsDetailed(ctx context.Context, cartID int64) ([]domain.CartViewItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ci.product_id, p.name, ci.quantity, p.price, ci.price_at_addition
		 FROM cart_items ci
		 JOIN products p ON p.id = ci.product_id
		 WHERE ci.cart_id = $1
		 ORDER BY ci.product_id`,
		cartID)
	if err != nil {
		return nil, fmt.Errorf("query detailed cart items: %w", err)
	}
	defer rows.Close()

	var items []domain.CartViewItem
	for rows.Next() {
		var it domain.CartViewItem
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Quantity,
			&it.Price, &it.PriceAtAddition); err != nil {
			return nil, fmt.Errorf("scan detailed cart item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

// Clear removes every line item and the cart record itself.
func (r *PostgresCartRepository) Clear(ctx context.Context, tx *sql.Tx, cartID int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("clear cart items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM carts WHERE id = $1`, cartID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}
