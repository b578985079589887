package invoices

import "time"

// Invoice is the immutable record produced by checking out a cart. Items
// are frozen snapshots of the cart lines at checkout time; they never
// reference the cart again.
type Invoice struct {
	InvoiceID int64         `json:"invoice_id"`
	ClientID  int64         `json:"client_id"`
	CreatedAt time.Time     `json:"created_at"`
	Total     float64       `json:"total"`
	Items     []InvoiceItem `json:"items"`
}

type InvoiceItem struct {
	ID        int64   `json:"id"`
	ProductID int64   `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// Patch carries the optional fields of a partial invoice update. Items are
// immutable once written.
type Patch struct {
	ClientID  *int64     `json:"client_id"`
	CreatedAt *time.Time `json:"created_at"`
	Total     *float64   `json:"total"`
}
