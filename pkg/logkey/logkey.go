package logkey

// Common keys for structured log attributes so log queries stay consistent
// across packages.
const (
	TraceID   = "TRACE ID"
	ERROR     = "ERROR"
	ClientID  = "ClientID"
	ProductID = "ProductID"
	CartID    = "CartID"
	InvoiceID = "InvoiceID"
	Quantity  = "Quantity"
	Stock     = "Stock"
)
