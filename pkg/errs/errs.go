// Package errs holds the error kinds the domain packages surface and the
// web layer translates into transport status codes. Domain code wraps these
// sentinels with fmt.Errorf("...: %w", ...) so callers can test the kind
// with errors.Is while keeping the descriptive message.
package errs

import "errors"

var (
	// ErrNotFound reports that a client, product, cart or invoice does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict reports a state conflict: a duplicate active cart,
	// insufficient stock, a mutation on a delivered cart, or a lost
	// concurrent-update race after retries were exhausted.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput reports a non-positive quantity or id.
	ErrInvalidInput = errors.New("invalid input")
)
