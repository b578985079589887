package products

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"commerce-backend/pkg/errs"

	"github.com/jackc/pgx/v5/pgconn"
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

func (c *Conf) InsertProduct(ctx context.Context, newProduct NewProduct) (Product, error) {
	product := Product{
		Name:  newProduct.Name,
		Price: newProduct.Price,
		Stock: newProduct.Stock,
	}
	err := c.db.QueryRowContext(ctx,
		`INSERT INTO products (name, price, stock) VALUES ($1, $2, $3) RETURNING id`,
		newProduct.Name, newProduct.Price, newProduct.Stock).Scan(&product.ID)
	if err != nil {
		return Product{}, fmt.Errorf("failed to insert product: %w", err)
	}
	return product, nil
}

func (c *Conf) GetProductByID(ctx context.Context, productID int64) (Product, error) {
	if productID <= 0 {
		return Product{}, fmt.Errorf("product id must be positive: %w", errs.ErrInvalidInput)
	}

	var product Product
	err := c.db.QueryRowContext(ctx,
		`SELECT id, name, price, stock FROM products WHERE id = $1`, productID).
		Scan(&product.ID, &product.Name, &product.Price, &product.Stock)
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, fmt.Errorf("product %d: %w", productID, errs.ErrNotFound)
	}
	if err != nil {
		return Product{}, fmt.Errorf("failed to query product: %w", err)
	}
	return product, nil
}

// ListProducts supports paging and sorting by a fixed set of columns.
func (c *Conf) ListProducts(ctx context.Context, limit int, offset int, sort string, order string) ([]Product, error) {
	switch sort {
	case "id", "name", "price", "stock":
	default:
		return nil, fmt.Errorf("unsupported sort column %q: %w", sort, errs.ErrInvalidInput)
	}
	switch order {
	case "asc", "desc":
	default:
		return nil, fmt.Errorf("unsupported sort order %q: %w", order, errs.ErrInvalidInput)
	}

	query := fmt.Sprintf(`SELECT id, name, price, stock FROM products ORDER BY %s %s LIMIT $1 OFFSET $2`, sort, order)
	rows, err := c.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	out := []Product{}
	for rows.Next() {
		var product Product
		if err := rows.Scan(&product.ID, &product.Name, &product.Price, &product.Stock); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out = append(out, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}
	return out, nil
}

// UpdateProductInDB applies a partial update. Direct stock writes here are
// an admin operation; cart reservations go through the carts package.
func (c *Conf) UpdateProductInDB(ctx context.Context, productID int64, update UpdateProduct) (Product, error) {
	if productID <= 0 {
		return Product{}, fmt.Errorf("product id must be positive: %w", errs.ErrInvalidInput)
	}

	var product Product
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT id, name, price, stock FROM products WHERE id = $1 FOR UPDATE`, productID).
			Scan(&product.ID, &product.Name, &product.Price, &product.Stock)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("product %d: %w", productID, errs.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to query product: %w", err)
		}

		if update.Name != nil {
			product.Name = *update.Name
		}
		if update.Price != nil {
			product.Price = *update.Price
		}
		if update.Stock != nil {
			product.Stock = *update.Stock
		}

		_, err = tx.ExecContext(ctx, `UPDATE products SET name = $1, price = $2, stock = $3 WHERE id = $4`,
			product.Name, product.Price, product.Stock, productID)
		if err != nil {
			return fmt.Errorf("failed to update product: %w", err)
		}
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	return product, nil
}

func (c *Conf) DeleteProductFromDB(ctx context.Context, productID int64) error {
	if productID <= 0 {
		return fmt.Errorf("product id must be positive: %w", errs.ErrInvalidInput)
	}

	res, err := c.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			// Still referenced by a cart line.
			return fmt.Errorf("product %d is in a cart: %w", productID, errs.ErrConflict)
		}
		return fmt.Errorf("failed to delete product: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("product %d: %w", productID, errs.ErrNotFound)
	}
	return nil
}

// GetProductStock returns the available-to-sell quantity.
func (c *Conf) GetProductStock(ctx context.Context, productID int64) (int, error) {
	if productID <= 0 {
		return 0, fmt.Errorf("product id must be positive: %w", errs.ErrInvalidInput)
	}

	var stock int
	err := c.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("product %d: %w", productID, errs.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query stock: %w", err)
	}
	return stock, nil
}

func (c *Conf) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
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
