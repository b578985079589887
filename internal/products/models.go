package products

type Product struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

// NewProduct is the payload for creating a product.
type NewProduct struct {
	Name  string  `json:"name" validate:"required"`
	Price float64 `json:"price" validate:"min=0"`
	Stock int     `json:"stock" validate:"min=0"`
}

// UpdateProduct carries the optional fields of a partial product update.
type UpdateProduct struct {
	Name  *string  `json:"name"`
	Price *float64 `json:"price" validate:"omitempty,min=0"`
	Stock *int     `json:"stock" validate:"omitempty,min=0"`
}
