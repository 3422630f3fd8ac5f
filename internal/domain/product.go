package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog entity as the storefront core sees it. Quantity is
// the authoritative stock count; only the stock ledger mutates it.
type Product struct {
	ID        int64
	Name      string
	Price     decimal.Decimal
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}
