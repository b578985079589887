// Package carts owns the cart lifecycle and the product stock ledger.
// Every mutation here runs inside a single transaction: the stock
// sufficiency check, the stock movement and the cart change commit or roll
// back together, so stock can never go negative and a cart item always has
// a matching reservation.
package carts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"commerce-backend/pkg/errs"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	// maxTxAttempts bounds the internal retry on lock and serialization
	// conflicts before the caller sees ErrConflict.
	maxTxAttempts = 3

	// lockTimeout bounds how long a transaction waits on a row lock held
	// by a concurrent writer.
	lockTimeout = `SET LOCAL lock_timeout = '3s'`
)

type Conf struct {
	db *sql.DB
}

func NewConf(db *sql.DB) (Conf, error) {
	if db == nil {
		return Conf{}, fmt.Errorf("db is nil")
	}
	return Conf{db: db}, nil
}

// CreateCart opens an empty cart for the client. It fails with ErrNotFound
// if the client does not exist and with ErrConflict if the client already
// has a cart, delivered or not.
func (c *Conf) CreateCart(ctx context.Context, clientID int64) (Cart, error) {
	if clientID <= 0 {
		return Cart{}, fmt.Errorf("client id must be positive: %w", errs.ErrInvalidInput)
	}

	var cart Cart
	err := c.withRetry(ctx, func(tx *sql.Tx) error {
		if err := clientExists(ctx, tx, clientID); err != nil {
			return err
		}

		var exists bool
		err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM carts WHERE cart_id = $1)`, clientID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to query cart: %w", err)
		}
		if exists {
			return fmt.Errorf("client %d already has a cart: %w", clientID, errs.ErrConflict)
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO carts (cart_id, delivered, last_updated) VALUES ($1, FALSE, NOW())`, clientID)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("client %d already has a cart: %w", clientID, errs.ErrConflict)
			}
			return fmt.Errorf("failed to create cart: %w", err)
		}

		loaded, err := loadCart(ctx, tx, clientID)
		if err != nil {
			return err
		}
		cart = loaded
		return nil
	})
	if err != nil {
		return Cart{}, err
	}
	return cart, nil
}

// AddProduct reserves stock for the client's cart: it upserts the product's
// line item and decrements the product stock in the same transaction. The
// first add implicitly opens a cart. A delivered cart rejects the mutation.
func (c *Conf) AddProduct(ctx context.Context, clientID int64, productID int64, quantity int) (Cart, error) {
	if clientID <= 0 || productID <= 0 {
		return Cart{}, fmt.Errorf("client and product ids must be positive: %w", errs.ErrInvalidInput)
	}
	if quantity <= 0 {
		return Cart{}, fmt.Errorf("quantity must be positive: %w", errs.ErrInvalidInput)
	}

	var cart Cart
	err := c.withRetry(ctx, func(tx *sql.Tx) error {
		if err := clientExists(ctx, tx, clientID); err != nil {
			return err
		}

		var delivered bool
		err := tx.QueryRowContext(ctx, `SELECT delivered FROM carts WHERE cart_id = $1 FOR UPDATE`, clientID).Scan(&delivered)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// First add-to-cart opens the cart.
			_, err = tx.ExecContext(ctx, `INSERT INTO carts (cart_id, delivered, last_updated) VALUES ($1, FALSE, NOW())`, clientID)
			if err != nil {
				return fmt.Errorf("failed to create cart: %w", err)
			}
		case err != nil:
			return fmt.Errorf("failed to query cart: %w", err)
		case delivered:
			return fmt.Errorf("cart %d is already delivered: %w", clientID, errs.ErrConflict)
		}

		// Lock the product row so the stock check and the decrement see
		// the same value even under concurrent adds.
		var unitPrice float64
		var stock int
		err = tx.QueryRowContext(ctx, `SELECT price, stock FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&unitPrice, &stock)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("product %d: %w", productID, errs.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to query product: %w", err)
		}
		if stock < quantity {
			return fmt.Errorf("insufficient stock for product %d: requested %d, available %d: %w",
				productID, quantity, stock, errs.ErrConflict)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO cart_items (cart_id, product_id, quantity, price)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (cart_id, product_id)
			DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity,
			              price = cart_items.price + EXCLUDED.price
		`, clientID, productID, quantity, unitPrice*float64(quantity))
		if err != nil {
			return fmt.Errorf("failed to upsert cart item: %w", err)
		}

		_, err = tx.ExecContext(ctx, `UPDATE products SET stock = stock - $1 WHERE id = $2`, quantity, productID)
		if err != nil {
			return fmt.Errorf("failed to decrement stock: %w", err)
		}

		_, err = tx.ExecContext(ctx, `UPDATE carts SET last_updated = NOW() WHERE cart_id = $1`, clientID)
		if err != nil {
			return fmt.Errorf("failed to touch cart: %w", err)
		}

		loaded, err := loadCart(ctx, tx, clientID)
		if err != nil {
			return err
		}
		cart = loaded
		return nil
	})
	if err != nil {
		return Cart{}, err
	}
	return cart, nil
}

// RemoveProduct deletes the product's line item from the cart and restores
// its full quantity to the product's stock. Partial removal is not
// supported.
func (c *Conf) RemoveProduct(ctx context.Context, cartID int64, productID int64) error {
	if cartID <= 0 || productID <= 0 {
		return fmt.Errorf("cart and product ids must be positive: %w", errs.ErrInvalidInput)
	}

	return c.withRetry(ctx, func(tx *sql.Tx) error {
		var delivered bool
		err := tx.QueryRowContext(ctx, `SELECT delivered FROM carts WHERE cart_id = $1 FOR UPDATE`, cartID).Scan(&delivered)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("cart %d: %w", cartID, errs.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to query cart: %w", err)
		}
		if delivered {
			return fmt.Errorf("cart %d is already delivered: %w", cartID, errs.ErrConflict)
		}

		var itemID int64
		var quantity int
		err = tx.QueryRowContext(ctx, `SELECT id, quantity FROM cart_items WHERE cart_id = $1 AND product_id = $2`,
			cartID, productID).Scan(&itemID, &quantity)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("product %d not in cart %d: %w", productID, cartID, errs.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to query cart item: %w", err)
		}

		_, err = tx.ExecContext(ctx, `UPDATE products SET stock = stock + $1 WHERE id = $2`, quantity, productID)
		if err != nil {
			return fmt.Errorf("failed to restore stock: %w", err)
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1`, itemID)
		if err != nil {
			return fmt.Errorf("failed to delete cart item: %w", err)
		}

		_, err = tx.ExecContext(ctx, `UPDATE carts SET last_updated = NOW() WHERE cart_id = $1`, cartID)
		if err != nil {
			return fmt.Errorf("failed to touch cart: %w", err)
		}
		return nil
	})
}

// DeleteCart releases every remaining reservation of an active cart back to
// product stock, then deletes the cart and its items. A delivered cart is
// deleted without touching stock: its reservations were consumed by the
// invoice.
func (c *Conf) DeleteCart(ctx context.Context, cartID int64) error {
	if cartID <= 0 {
		return fmt.Errorf("cart id must be positive: %w", errs.ErrInvalidInput)
	}

	return c.withRetry(ctx, func(tx *sql.Tx) error {
		var delivered bool
		err := tx.QueryRowContext(ctx, `SELECT delivered FROM carts WHERE cart_id = $1 FOR UPDATE`, cartID).Scan(&delivered)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("cart %d: %w", cartID, errs.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to query cart: %w", err)
		}
		return deleteCartTx(ctx, tx, cartID, delivered)
	})
}

// deleteCartTx holds the restore-then-delete path shared by DeleteCart and
// the cleanup sweep. The caller must already hold the cart row lock.
func deleteCartTx(ctx context.Context, tx *sql.Tx, cartID int64, delivered bool) error {
	if !delivered {
		// Lock products in id order to avoid deadlocks with concurrent adds.
		rows, err := tx.QueryContext(ctx,
			`SELECT product_id, quantity FROM cart_items WHERE cart_id = $1 ORDER BY product_id`, cartID)
		if err != nil {
			return fmt.Errorf("failed to query cart items: %w", err)
		}
		type restore struct {
			productID int64
			quantity  int
		}
		var restores []restore
		for rows.Next() {
			var r restore
			if err := rows.Scan(&r.productID, &r.quantity); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan cart item: %w", err)
			}
			restores = append(restores, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating cart items: %w", err)
		}

		for _, r := range restores {
			_, err := tx.ExecContext(ctx, `UPDATE products SET stock = stock + $1 WHERE id = $2`, r.quantity, r.productID)
			if err != nil {
				return fmt.Errorf("failed to restore stock for product %d: %w", r.productID, err)
			}
		}
	}

	// Cascades to cart_items.
	if _, err := tx.ExecContext(ctx, `DELETE FROM carts WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

// GetCart returns the cart with its items and total.
func (c *Conf) GetCart(ctx context.Context, cartID int64) (Cart, error) {
	if cartID <= 0 {
		return Cart{}, fmt.Errorf("cart id must be positive: %w", errs.ErrInvalidInput)
	}

	var cart Cart
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		loaded, err := loadCart(ctx, tx, cartID)
		if err != nil {
			return err
		}
		cart = loaded
		return nil
	})
	if err != nil {
		return Cart{}, err
	}
	return cart, nil
}

// ListCarts returns every cart with its items.
func (c *Conf) ListCarts(ctx context.Context) ([]Cart, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT c.cart_id, c.delivered, c.last_updated, ci.id, ci.product_id, ci.quantity, ci.price
		FROM carts c
		LEFT JOIN cart_items ci ON ci.cart_id = c.cart_id
		ORDER BY c.cart_id, ci.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query carts: %w", err)
	}
	defer rows.Close()

	carts := []Cart{}
	byID := map[int64]int{}
	for rows.Next() {
		var cart Cart
		var itemID, productID sql.NullInt64
		var quantity sql.NullInt64
		var price sql.NullFloat64
		if err := rows.Scan(&cart.CartID, &cart.Delivered, &cart.LastUpdated,
			&itemID, &productID, &quantity, &price); err != nil {
			return nil, fmt.Errorf("failed to scan cart row: %w", err)
		}

		idx, ok := byID[cart.CartID]
		if !ok {
			cart.Items = []CartItem{}
			carts = append(carts, cart)
			idx = len(carts) - 1
			byID[cart.CartID] = idx
		}
		if itemID.Valid {
			item := CartItem{
				ID:        itemID.Int64,
				ProductID: productID.Int64,
				Quantity:  int(quantity.Int64),
				Price:     price.Float64,
			}
			carts[idx].Items = append(carts[idx].Items, item)
			carts[idx].Total += item.Price
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating carts: %w", err)
	}
	return carts, nil
}

func loadCart(ctx context.Context, tx *sql.Tx, cartID int64) (Cart, error) {
	var cart Cart
	err := tx.QueryRowContext(ctx, `SELECT cart_id, delivered, last_updated FROM carts WHERE cart_id = $1`, cartID).
		Scan(&cart.CartID, &cart.Delivered, &cart.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return Cart{}, fmt.Errorf("cart %d: %w", cartID, errs.ErrNotFound)
	}
	if err != nil {
		return Cart{}, fmt.Errorf("failed to query cart: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, product_id, quantity, price FROM cart_items WHERE cart_id = $1 ORDER BY id`, cartID)
	if err != nil {
		return Cart{}, fmt.Errorf("failed to query cart items: %w", err)
	}
	defer rows.Close()

	cart.Items = []CartItem{}
	for rows.Next() {
		var item CartItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Quantity, &item.Price); err != nil {
			return Cart{}, fmt.Errorf("failed to scan cart item: %w", err)
		}
		cart.Items = append(cart.Items, item)
		cart.Total += item.Price
	}
	if err := rows.Err(); err != nil {
		return Cart{}, fmt.Errorf("error iterating cart items: %w", err)
	}
	return cart, nil
}

func clientExists(ctx context.Context, tx *sql.Tx, clientID int64) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM clients WHERE id = $1)`, clientID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to query client: %w", err)
	}
	if !exists {
		return fmt.Errorf("client %d: %w", clientID, errs.ErrNotFound)
	}
	return nil
}

func (c *Conf) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, lockTimeout); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to set lock timeout: %w", err)
	}

	if err := fn(tx); err != nil {
		if er := tx.Rollback(); er != nil && !errors.Is(er, sql.ErrTxDone) {
			return fmt.Errorf("failed to rollback withTx: %w", er)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit withTx: %w", err)
	}
	return nil
}

// withRetry re-runs the transaction on serialization failures, deadlocks
// and lock timeouts. Exhausting the attempts surfaces ErrConflict so the
// web layer reports the lost race instead of silently dropping a write.
func (c *Conf) withRetry(ctx context.Context, fn func(*sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = c.withTx(ctx, fn)
		if err == nil || !retryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 25 * time.Millisecond):
		}
	}
	return fmt.Errorf("transaction kept conflicting after %d attempts: %w", maxTxAttempts, errs.ErrConflict)
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization failure, deadlock, lock timeout
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
