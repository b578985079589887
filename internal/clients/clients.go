package clients

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

// InsertClient registers the client and opens their empty cart in the same
// transaction.
func (c *Conf) InsertClient(ctx context.Context, newClient NewClient) (Client, error) {
	var client Client
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO clients (name, lastname, docnumber, age) VALUES ($1, $2, $3, $4) RETURNING id`,
			newClient.Name, newClient.Lastname, newClient.Docnumber, newClient.Age).Scan(&client.ID)
		if err != nil {
			return fmt.Errorf("failed to insert client: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO carts (cart_id, delivered, last_updated) VALUES ($1, FALSE, NOW())`, client.ID)
		if err != nil {
			return fmt.Errorf("failed to create cart for client: %w", err)
		}
		return nil
	})
	if err != nil {
		return Client{}, err
	}

	client.Name = newClient.Name
	client.Lastname = newClient.Lastname
	client.Docnumber = newClient.Docnumber
	client.Age = newClient.Age
	return client, nil
}

// GetClientByID returns the client or ErrNotFound.
func (c *Conf) GetClientByID(ctx context.Context, clientID int64) (Client, error) {
	if clientID <= 0 {
		return Client{}, fmt.Errorf("client id must be positive: %w", errs.ErrInvalidInput)
	}

	var client Client
	err := c.db.QueryRowContext(ctx,
		`SELECT id, name, lastname, docnumber, age FROM clients WHERE id = $1`, clientID).
		Scan(&client.ID, &client.Name, &client.Lastname, &client.Docnumber, &client.Age)
	if errors.Is(err, sql.ErrNoRows) {
		return Client{}, fmt.Errorf("client %d: %w", clientID, errs.ErrNotFound)
	}
	if err != nil {
		return Client{}, fmt.Errorf("failed to query client: %w", err)
	}
	return client, nil
}

// ListClients returns all clients ordered by id.
func (c *Conf) ListClients(ctx context.Context) ([]Client, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, name, lastname, docnumber, age FROM clients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	out := []Client{}
	for rows.Next() {
		var client Client
		if err := rows.Scan(&client.ID, &client.Name, &client.Lastname, &client.Docnumber, &client.Age); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		out = append(out, client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clients: %w", err)
	}
	return out, nil
}

// DeleteClient removes the client; the cart and invoices go with it via
// cascade. Reserved stock on an active cart is restored first so deleting
// a client cannot leak reservations.
func (c *Conf) DeleteClient(ctx context.Context, clientID int64) error {
	if clientID <= 0 {
		return fmt.Errorf("client id must be positive: %w", errs.ErrInvalidInput)
	}

	return c.withRetry(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM clients WHERE id = $1)`, clientID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to query client: %w", err)
		}
		if !exists {
			return fmt.Errorf("client %d: %w", clientID, errs.ErrNotFound)
		}

		var delivered bool
		err := tx.QueryRowContext(ctx, `SELECT delivered FROM carts WHERE cart_id = $1 FOR UPDATE`, clientID).Scan(&delivered)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to query cart: %w", err)
		}
		if err == nil && !delivered {
			rows, err := tx.QueryContext(ctx,
				`SELECT product_id, quantity FROM cart_items WHERE cart_id = $1 ORDER BY product_id`, clientID)
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
				if _, err := tx.ExecContext(ctx,
					`UPDATE products SET stock = stock + $1 WHERE id = $2`, r.quantity, r.productID); err != nil {
					return fmt.Errorf("failed to restore stock for product %d: %w", r.productID, err)
				}
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM clients WHERE id = $1`, clientID); err != nil {
			return fmt.Errorf("failed to delete client: %w", err)
		}
		return nil
	})
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
