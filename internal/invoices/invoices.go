// Package invoices converts carts into immutable invoices and serves
// invoice reads. Checkout moves no stock: every unit on the cart was
// already reserved when it was added.
package invoices

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

// CreateForClient checks out the client's cart: it snapshots the cart
// lines into invoice items, computes the total and flips the cart to
// delivered, all in one transaction. A second checkout of the same cart
// fails with ErrConflict.
func (c *Conf) CreateForClient(ctx context.Context, clientID int64) (Invoice, error) {
	if clientID <= 0 {
		return Invoice{}, fmt.Errorf("client id must be positive: %w", errs.ErrInvalidInput)
	}

	var invoice Invoice
	err := c.withRetry(ctx, func(tx *sql.Tx) error {
		var delivered bool
		err := tx.QueryRowContext(ctx, `SELECT delivered FROM carts WHERE cart_id = $1 FOR UPDATE`, clientID).Scan(&delivered)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("cart for client %d: %w", clientID, errs.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to query cart: %w", err)
		}
		if delivered {
			return fmt.Errorf("cart %d was already checked out: %w", clientID, errs.ErrConflict)
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT product_id, quantity, price FROM cart_items WHERE cart_id = $1 ORDER BY id`, clientID)
		if err != nil {
			return fmt.Errorf("failed to query cart items: %w", err)
		}
		var items []InvoiceItem
		var total float64
		for rows.Next() {
			var item InvoiceItem
			if err := rows.Scan(&item.ProductID, &item.Quantity, &item.Price); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan cart item: %w", err)
			}
			items = append(items, item)
			total += item.Price
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating cart items: %w", err)
		}
		if len(items) == 0 {
			return fmt.Errorf("cart %d is empty: %w", clientID, errs.ErrConflict)
		}

		err = tx.QueryRowContext(ctx,
			`INSERT INTO invoices (client_id, created_at, total) VALUES ($1, NOW(), $2) RETURNING id, created_at`,
			clientID, total).Scan(&invoice.InvoiceID, &invoice.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert invoice: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO invoice_items (invoice_id, product_id, quantity, price) VALUES ($1, $2, $3, $4) RETURNING id`)
		if err != nil {
			return fmt.Errorf("failed to prepare invoice item insert: %w", err)
		}
		defer stmt.Close()
		for i := range items {
			if err := stmt.QueryRowContext(ctx, invoice.InvoiceID, items[i].ProductID,
				items[i].Quantity, items[i].Price).Scan(&items[i].ID); err != nil {
				return fmt.Errorf("failed to insert invoice item: %w", err)
			}
		}

		// Items stay on the cart for audit reads; delivered=true makes
		// every further mutation fail.
		_, err = tx.ExecContext(ctx, `UPDATE carts SET delivered = TRUE, last_updated = NOW() WHERE cart_id = $1`, clientID)
		if err != nil {
			return fmt.Errorf("failed to mark cart delivered: %w", err)
		}

		invoice.ClientID = clientID
		invoice.Total = total
		invoice.Items = items
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	return invoice, nil
}

// GetByID returns one invoice with its items.
func (c *Conf) GetByID(ctx context.Context, invoiceID int64) (Invoice, error) {
	if invoiceID <= 0 {
		return Invoice{}, fmt.Errorf("invoice id must be positive: %w", errs.ErrInvalidInput)
	}

	var invoice Invoice
	err := c.db.QueryRowContext(ctx,
		`SELECT id, client_id, created_at, total FROM invoices WHERE id = $1`, invoiceID).
		Scan(&invoice.InvoiceID, &invoice.ClientID, &invoice.CreatedAt, &invoice.Total)
	if errors.Is(err, sql.ErrNoRows) {
		return Invoice{}, fmt.Errorf("invoice %d: %w", invoiceID, errs.ErrNotFound)
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("failed to query invoice: %w", err)
	}
	if err := c.loadItems(ctx, &invoice); err != nil {
		return Invoice{}, err
	}
	return invoice, nil
}

// List returns all invoices with their items.
func (c *Conf) List(ctx context.Context) ([]Invoice, error) {
	return c.queryInvoices(ctx, `SELECT id, client_id, created_at, total FROM invoices ORDER BY id`)
}

// ByClient returns the client's invoices, oldest first.
func (c *Conf) ByClient(ctx context.Context, clientID int64) ([]Invoice, error) {
	if clientID <= 0 {
		return nil, fmt.Errorf("client id must be positive: %w", errs.ErrInvalidInput)
	}
	return c.queryInvoices(ctx,
		`SELECT id, client_id, created_at, total FROM invoices WHERE client_id = $1 ORDER BY id`, clientID)
}

// LatestByClient returns the client's most recent invoice.
func (c *Conf) LatestByClient(ctx context.Context, clientID int64) (Invoice, error) {
	if clientID <= 0 {
		return Invoice{}, fmt.Errorf("client id must be positive: %w", errs.ErrInvalidInput)
	}

	var invoice Invoice
	err := c.db.QueryRowContext(ctx,
		`SELECT id, client_id, created_at, total FROM invoices WHERE client_id = $1 ORDER BY id DESC LIMIT 1`,
		clientID).Scan(&invoice.InvoiceID, &invoice.ClientID, &invoice.CreatedAt, &invoice.Total)
	if errors.Is(err, sql.ErrNoRows) {
		return Invoice{}, fmt.Errorf("no invoice for client %d: %w", clientID, errs.ErrNotFound)
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("failed to query invoice: %w", err)
	}
	if err := c.loadItems(ctx, &invoice); err != nil {
		return Invoice{}, err
	}
	return invoice, nil
}

// Update applies a partial patch to the client's latest invoice. A client
// reassignment is verified against the clients table first.
func (c *Conf) Update(ctx context.Context, clientID int64, patch Patch) (Invoice, error) {
	if clientID <= 0 {
		return Invoice{}, fmt.Errorf("client id must be positive: %w", errs.ErrInvalidInput)
	}
	if patch.ClientID != nil && *patch.ClientID <= 0 {
		return Invoice{}, fmt.Errorf("client id must be positive: %w", errs.ErrInvalidInput)
	}

	var invoice Invoice
	err := c.withRetry(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT id, client_id, created_at, total FROM invoices WHERE client_id = $1 ORDER BY id DESC LIMIT 1 FOR UPDATE`,
			clientID).Scan(&invoice.InvoiceID, &invoice.ClientID, &invoice.CreatedAt, &invoice.Total)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("no invoice for client %d: %w", clientID, errs.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to query invoice: %w", err)
		}

		if patch.CreatedAt != nil {
			invoice.CreatedAt = *patch.CreatedAt
		}
		if patch.Total != nil {
			invoice.Total = *patch.Total
		}
		if patch.ClientID != nil {
			var exists bool
			err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM clients WHERE id = $1)`, *patch.ClientID).Scan(&exists)
			if err != nil {
				return fmt.Errorf("failed to query client: %w", err)
			}
			if !exists {
				return fmt.Errorf("client %d: %w", *patch.ClientID, errs.ErrNotFound)
			}
			invoice.ClientID = *patch.ClientID
		}

		_, err = tx.ExecContext(ctx, `UPDATE invoices SET client_id = $1, created_at = $2, total = $3 WHERE id = $4`,
			invoice.ClientID, invoice.CreatedAt, invoice.Total, invoice.InvoiceID)
		if err != nil {
			return fmt.Errorf("failed to update invoice: %w", err)
		}
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	if err := c.loadItems(ctx, &invoice); err != nil {
		return Invoice{}, err
	}
	return invoice, nil
}

// Delete removes the invoice and its items. Stock is untouched: the
// invoice represents an already completed sale.
func (c *Conf) Delete(ctx context.Context, invoiceID int64) error {
	if invoiceID <= 0 {
		return fmt.Errorf("invoice id must be positive: %w", errs.ErrInvalidInput)
	}

	res, err := c.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, invoiceID)
	if err != nil {
		return fmt.Errorf("failed to delete invoice: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("invoice %d: %w", invoiceID, errs.ErrNotFound)
	}
	return nil
}

func (c *Conf) queryInvoices(ctx context.Context, query string, args ...any) ([]Invoice, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	out := []Invoice{}
	for rows.Next() {
		var inv Invoice
		if err := rows.Scan(&inv.InvoiceID, &inv.ClientID, &inv.CreatedAt, &inv.Total); err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoices: %w", err)
	}
	for i := range out {
		if err := c.loadItems(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *Conf) loadItems(ctx context.Context, invoice *Invoice) error {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, product_id, quantity, price FROM invoice_items WHERE invoice_id = $1 ORDER BY id`,
		invoice.InvoiceID)
	if err != nil {
		return fmt.Errorf("failed to query invoice items: %w", err)
	}
	defer rows.Close()

	invoice.Items = []InvoiceItem{}
	for rows.Next() {
		var item InvoiceItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Quantity, &item.Price); err != nil {
			return fmt.Errorf("failed to scan invoice item: %w", err)
		}
		invoice.Items = append(invoice.Items, item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating invoice items: %w", err)
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
