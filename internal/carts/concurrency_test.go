package carts

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"commerce-backend/pkg/errs"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"
)

// openLiveDB connects to the database named by TEST_DATABASE_DSN. The
// concurrency tests need real row locking, which sqlmock cannot give us,
// so they are skipped unless a database is provided.
func openLiveDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set, skipping live database test")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedClientAndProduct(t *testing.T, db *sql.DB, stock int) (clientID, productID int64) {
	t.Helper()
	ctx := context.Background()

	err := db.QueryRowContext(ctx,
		`INSERT INTO clients (name, lastname, docnumber, age) VALUES ('test', 'client', '00000000', 30) RETURNING id`).
		Scan(&clientID)
	if err != nil {
		t.Fatalf("failed to seed client: %v", err)
	}
	err = db.QueryRowContext(ctx,
		`INSERT INTO products (name, price, stock) VALUES ('test product', 10.0, $1) RETURNING id`, stock).
		Scan(&productID)
	if err != nil {
		t.Fatalf("failed to seed product: %v", err)
	}

	t.Cleanup(func() {
		db.ExecContext(ctx, `DELETE FROM clients WHERE id = $1`, clientID)
		db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})
	return clientID, productID
}

// TestConcurrentAddsNeverOversell hammers one product from many goroutines
// and checks that the sum of reserved quantities never exceeds the initial
// stock, and that reserved plus remaining always equals it.
func TestConcurrentAddsNeverOversell(t *testing.T) {
	db := openLiveDB(t)
	const initialStock = 10

	clientID, productID := seedClientAndProduct(t, db, initialStock)

	conf, err := NewConf(db)
	if err != nil {
		t.Fatalf("NewConf: %v", err)
	}
	ctx := context.Background()

	const workers = 8
	const perAdd = 3

	var g errgroup.Group
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			_, err := conf.AddProduct(ctx, clientID, productID, perAdd)
			results <- err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("worker failed: %v", err)
	}
	close(results)

	succeeded := 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, errs.ErrConflict):
			// lost the race for the remaining stock
		default:
			t.Fatalf("unexpected error from AddProduct: %v", err)
		}
	}

	if succeeded*perAdd > initialStock {
		t.Fatalf("oversold: %d adds of %d units against stock %d", succeeded, perAdd, initialStock)
	}

	var stock int
	if err := db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock); err != nil {
		t.Fatalf("failed to read stock: %v", err)
	}
	if stock != initialStock-succeeded*perAdd {
		t.Fatalf("stock not conserved: initial %d, reserved %d, remaining %d",
			initialStock, succeeded*perAdd, stock)
	}

	var reserved sql.NullInt64
	err = db.QueryRowContext(ctx,
		`SELECT SUM(quantity) FROM cart_items WHERE cart_id = $1 AND product_id = $2`,
		clientID, productID).Scan(&reserved)
	if err != nil {
		t.Fatalf("failed to read reservations: %v", err)
	}
	if int(reserved.Int64)+stock != initialStock {
		t.Fatalf("conservation violated: reserved %d + remaining %d != initial %d",
			reserved.Int64, stock, initialStock)
	}
}

// TestConcurrentAddAndDelete races cart deletion against adds. Whatever
// interleaving wins, stock must be fully restored once the cart is gone.
func TestConcurrentAddAndDelete(t *testing.T) {
	db := openLiveDB(t)
	const initialStock = 20

	clientID, productID := seedClientAndProduct(t, db, initialStock)

	conf, err := NewConf(db)
	if err != nil {
		t.Fatalf("NewConf: %v", err)
	}
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			_, err := conf.AddProduct(ctx, clientID, productID, 2)
			if err != nil && !errors.Is(err, errs.ErrConflict) && !errors.Is(err, errs.ErrNotFound) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		err := conf.DeleteCart(ctx, clientID)
		if err != nil && !errors.Is(err, errs.ErrNotFound) && !errors.Is(err, errs.ErrConflict) {
			return err
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("race worker failed: %v", err)
	}

	// drain whatever reservations remain
	if err := conf.DeleteCart(ctx, clientID); err != nil && !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("final DeleteCart failed: %v", err)
	}

	var stock int
	if err := db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock); err != nil {
		t.Fatalf("failed to read stock: %v", err)
	}
	if stock != initialStock {
		t.Fatalf("stock not restored after cart deletion: got %d, want %d", stock, initialStock)
	}
}
