package kafka

import "time"

const (
	TopicInvoiceCreated = `invoice-service.invoice-created`
	TopicCartRemoved    = `cart-service.cart-removed`
)

// InvoiceCreatedEvent is published after a checkout commits.
type InvoiceCreatedEvent struct {
	InvoiceID int64     `json:"invoice_id"`
	ClientID  int64     `json:"client_id"`
	Total     float64   `json:"total"`
	CreatedAt time.Time `json:"created_at"` // Timestamp of the checkout
}

// CartRemovedEvent is published when the cleanup sweep releases an
// abandoned cart's stock.
type CartRemovedEvent struct {
	CartID    int64     `json:"cart_id"`
	RemovedAt time.Time `json:"removed_at"`
}
