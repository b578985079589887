package carts

import "time"

// Cart is one client's active shopping cart. Its id equals the owning
// client's id, which is what enforces one cart per client.
type Cart struct {
	CartID      int64      `json:"cart_id"`
	Delivered   bool       `json:"delivered"`
	LastUpdated time.Time  `json:"last_updated"`
	Items       []CartItem `json:"items"`
	Total       float64    `json:"total"`
}

// CartItem is one product line. Price is the line total, unit price times
// quantity, recomputed on every quantity change.
type CartItem struct {
	ID        int64   `json:"id"`
	ProductID int64   `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}
