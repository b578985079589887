package invoices

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"commerce-backend/pkg/errs"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockConf(t *testing.T) (Conf, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	conf, err := NewConf(db)
	if err != nil {
		t.Fatalf("NewConf: %v", err)
	}
	return conf, mock, db
}

func expectTxStart(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SET LOCAL lock_timeout`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestCreateForClient_Success(t *testing.T) {
	conf, mock, db := newMockConf(t)
	defer db.Close()

	createdAt := time.Now()

	expectTxStart(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT delivered FROM carts WHERE cart_id = $1 FOR UPDATE`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"delivered"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT product_id, quantity, price FROM cart_items WHERE cart_id = $1 ORDER BY id`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "price"}).
			AddRow(int64(10), 2, 50.0).
			AddRow(int64(11), 1, 30.0))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO invoices (client_id, created_at, total) VALUES ($1, NOW(), $2) RETURNING id, created_at`)).
		WithArgs(int64(1), 80.0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), createdAt))
	mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO invoice_items (invoice_id, product_id, quantity, price) VALUES ($1, $2, $3, $4) RETURNING id`))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO invoice_items`)).
		WithArgs(int64(7), int64(10), 2, 50.0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(20)))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO invoice_items`)).
		WithArgs(int64(7), int64(11), 1, 30.0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(21)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE carts SET delivered = TRUE, last_updated = NOW() WHERE cart_id = $1`)).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	invoice, err := conf.CreateForClient(context.Background(), 1)
	if err != nil {
		t.Fatalf("CreateForClient failed: %v", err)
	}
	if invoice.InvoiceID != 7 || invoice.ClientID != 1 {
		t.Fatalf("unexpected invoice identity: %+v", invoice)
	}
	if invoice.Total != 80.0 {
		t.Fatalf("expected total 80.0, got %v", invoice.Total)
	}
	if len(invoice.Items) != 2 || invoice.Items[0].ID != 20 || invoice.Items[1].ID != 21 {
		t.Fatalf("unexpected invoice items: %+v", invoice.Items)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateForClient_AlreadyCheckedOut(t *testing.T) {
	conf, mock, db := newMockConf(t)
	defer db.Close()

	expectTxStart(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT delivered FROM carts WHERE cart_id = $1 FOR UPDATE`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"delivered"}).AddRow(true))
	mock.ExpectRollback()

	_, err := conf.CreateForClient(context.Background(), 1)
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected ErrConflict for second checkout, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateForClient_NoCart(t *testing.T) {
	conf, mock, db := newMockConf(t)
	defer db.Close()

	expectTxStart(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT delivered FROM carts WHERE cart_id = $1 FOR UPDATE`)).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := conf.CreateForClient(context.Background(), 9)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing cart, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateForClient_EmptyCart(t *testing.T) {
	conf, mock, db := newMockConf(t)
	defer db.Close()

	expectTxStart(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT delivered FROM carts WHERE cart_id = $1 FOR UPDATE`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"delivered"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT product_id, quantity, price FROM cart_items WHERE cart_id = $1 ORDER BY id`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "price"}))
	mock.ExpectRollback()

	_, err := conf.CreateForClient(context.Background(), 1)
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected ErrConflict for empty cart, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateForClient_RetriesLockTimeout(t *testing.T) {
	conf, mock, db := newMockConf(t)
	defer db.Close()

	// a checkout losing the cart row lock to a concurrent sweep or delete
	// is retried, then rejected as a conflict rather than a server error
	for i := 0; i < 3; i++ {
		expectTxStart(mock)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT delivered FROM carts WHERE cart_id = $1 FOR UPDATE`)).
			WithArgs(int64(1)).
			WillReturnError(&pgconn.PgError{Code: "55P03"})
		mock.ExpectRollback()
	}

	_, err := conf.CreateForClient(context.Background(), 1)
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected ErrConflict after exhausted retries, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdate_PatchesLatestInvoice(t *testing.T) {
	conf, mock, db := newMockConf(t)
	defer db.Close()

	createdAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	newTotal := 99.0

	expectTxStart(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, client_id, created_at, total FROM invoices WHERE client_id = $1 ORDER BY id DESC LIMIT 1 FOR UPDATE`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "created_at", "total"}).
			AddRow(int64(4), int64(1), createdAt, 80.0))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE invoices SET client_id = $1, created_at = $2, total = $3 WHERE id = $4`)).
		WithArgs(int64(1), createdAt, newTotal, int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, product_id, quantity, price FROM invoice_items WHERE invoice_id = $1 ORDER BY id`)).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "quantity", "price"}))

	invoice, err := conf.Update(context.Background(), 1, Patch{Total: &newTotal})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if invoice.Total != newTotal {
		t.Fatalf("expected total %v, got %v", newTotal, invoice.Total)
	}
	if !invoice.CreatedAt.Equal(createdAt) {
		t.Fatalf("created_at must be untouched when not patched, got %v", invoice.CreatedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdate_ReassignsClient(t *testing.T) {
	conf, mock, db := newMockConf(t)
	defer db.Close()

	createdAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	newClient := int64(9)

	expectTxStart(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, client_id, created_at, total FROM invoices WHERE client_id = $1 ORDER BY id DESC LIMIT 1 FOR UPDATE`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "created_at", "total"}).
			AddRow(int64(4), int64(1), createdAt, 80.0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM clients WHERE id = $1)`)).
		WithArgs(newClient).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE invoices SET client_id = $1, created_at = $2, total = $3 WHERE id = $4`)).
		WithArgs(newClient, createdAt, 80.0, int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, product_id, quantity, price FROM invoice_items WHERE invoice_id = $1 ORDER BY id`)).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "quantity", "price"}))

	invoice, err := conf.Update(context.Background(), 1, Patch{ClientID: &newClient})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if invoice.ClientID != newClient {
		t.Fatalf("expected client %d, got %d", newClient, invoice.ClientID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdate_UnknownClient(t *testing.T) {
	conf, mock, db := newMockConf(t)
	defer db.Close()

	missing := int64(404)

	expectTxStart(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, client_id, created_at, total FROM invoices WHERE client_id = $1 ORDER BY id DESC LIMIT 1 FOR UPDATE`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "created_at", "total"}).
			AddRow(int64(4), int64(1), time.Now(), 80.0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM clients WHERE id = $1)`)).
		WithArgs(missing).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := conf.Update(context.Background(), 1, Patch{ClientID: &missing})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown client, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdate_NoInvoice(t *testing.T) {
	conf, mock, db := newMockConf(t)
	defer db.Close()

	expectTxStart(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, client_id, created_at, total FROM invoices WHERE client_id = $1 ORDER BY id DESC LIMIT 1 FOR UPDATE`)).
		WithArgs(int64(2)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := conf.Update(context.Background(), 2, Patch{})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDelete_NotFound(t *testing.T) {
	conf, mock, db := newMockConf(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM invoices WHERE id = $1`)).
		WithArgs(int64(77)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := conf.Delete(context.Background(), 77)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetByID_Success(t *testing.T) {
	conf, mock, db := newMockConf(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, client_id, created_at, total FROM invoices WHERE id = $1`)).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "created_at", "total"}).
			AddRow(int64(5), int64(2), time.Now(), 42.0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, product_id, quantity, price FROM invoice_items WHERE invoice_id = $1 ORDER BY id`)).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "quantity", "price"}).
			AddRow(int64(1), int64(10), 2, 42.0))

	invoice, err := conf.GetByID(context.Background(), 5)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if invoice.ClientID != 2 || len(invoice.Items) != 1 {
		t.Fatalf("unexpected invoice: %+v", invoice)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
