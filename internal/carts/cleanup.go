package carts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"commerce-backend/pkg/errs"
	"commerce-backend/pkg/logkey"
)

// DefaultRetention is how long a cart may sit untouched before the sweep
// reclaims its stock.
const DefaultRetention = 3 * 24 * time.Hour

// RemoveInactiveCarts deletes every cart whose last_updated is older than
// the retention window, releasing its reserved stock exactly like
// DeleteCart. It returns the ids of the removed carts.
//
// Each cart is handled in its own transaction under the same row locks the
// interactive paths take, so a sweep cannot release stock for a cart that
// is concurrently being checked out: whichever transaction wins the cart
// row lock decides the outcome, and the loser sees the new state.
func (c *Conf) RemoveInactiveCarts(ctx context.Context, retention time.Duration) ([]int64, error) {
	cutoff := time.Now().Add(-retention)

	rows, err := c.db.QueryContext(ctx, `SELECT cart_id FROM carts WHERE last_updated < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query inactive carts: %w", err)
	}
	var cartIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan cart id: %w", err)
		}
		cartIDs = append(cartIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating inactive carts: %w", err)
	}

	var removed []int64
	for _, cartID := range cartIDs {
		err := c.withRetry(ctx, func(tx *sql.Tx) error {
			var delivered bool
			var lastUpdated time.Time
			err := tx.QueryRowContext(ctx,
				`SELECT delivered, last_updated FROM carts WHERE cart_id = $1 FOR UPDATE`, cartID).
				Scan(&delivered, &lastUpdated)
			if errors.Is(err, sql.ErrNoRows) {
				// Deleted since the selection query ran.
				return fmt.Errorf("cart %d: %w", cartID, errs.ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("failed to query cart: %w", err)
			}
			if !lastUpdated.Before(cutoff) {
				// Touched since the selection query ran, keep it.
				return fmt.Errorf("cart %d active again: %w", cartID, errs.ErrConflict)
			}
			return deleteCartTx(ctx, tx, cartID, delivered)
		})
		switch {
		case err == nil:
			removed = append(removed, cartID)
			slog.Info("removed inactive cart", slog.Int64(logkey.CartID, cartID))
		case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrConflict):
			// Cart vanished or came back to life, nothing to do.
		default:
			return removed, fmt.Errorf("failed to remove cart %d: %w", cartID, err)
		}
	}
	return removed, nil
}
