package domain

import (
	"errors"
	"fmt"
)

// Recoverable, user-facing conditions. Handlers translate these into 4xx
// responses; the orchestration layer never swallows them.
var (
	ErrEmptyCart               = errors.New("cart is empty")
	ErrNotAuthenticated        = errors.New("user is not authenticated")
	ErrProductNotFound         = errors.New("product not found")
	ErrCartItemNotFound        = errors.New("cart item not found")
	ErrOrderNotFound           = errors.New("order not found")
	ErrInvalidQuantity         = errors.New("quantity must be positive")
	ErrInvalidStatusTransition = errors.New("illegal order status transition")

	// ErrConcurrencyConflict covers serialization failures and lock timeouts;
	// the request can simply be retried.
	ErrConcurrencyConflict = errors.New("concurrent modification, try again")
)

// InsufficientStockError names the offending product and how much of it is
// actually available, so callers can render a precise message.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d (%s): requested %d, available %d",
		e.ProductID, e.ProductName, e.Requested, e.Available)
}

// IsUserFacing reports whether err is a recoverable condition the web layer
// should show to the visitor rather than treat as a server fault.
func IsUserFacing(err error) bool {
	var stockErr *InsufficientStockError
	if errors.As(err, &stockErr) {
		return true
	}
	return errors.Is(err, ErrEmptyCart) ||
		errors.Is(err, ErrNotAuthenticated) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrCartItemNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, ErrConcurrencyConflict)
}
