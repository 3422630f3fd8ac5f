package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// CartOwner identifies who a cart belongs to: an authenticated user or an
// anonymous visitor carrying an opaque guest token. Exactly one side is set.
type CartOwner struct {
	UserID     int64
	GuestToken string
}

func UserOwner(userID int64) CartOwner {
	return CartOwner{UserID: userID}
}

func GuestOwner(token string) CartOwner {
	return CartOwner{GuestToken: token}
}

func (o CartOwner) IsUser() bool {
	return o.UserID != 0
}

func (o CartOwner) IsGuest() bool {
	return o.UserID == 0 && o.GuestToken != ""
}

// Key returns a stable cache/singleflight key for the owner.
func (o CartOwner) Key() string {
	if o.IsUser() {
		return "user:" + strconv.FormatInt(o.UserID, 10)
	}
	return "guest:" + o.GuestToken
}

type Cart struct {
	ID         int64
	UserID     int64  // 0 for guest carts
	GuestToken string // empty for user carts
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type CartItem struct {
	ID              int64
	CartID          int64
	ProductID       int64
	Quantity        int
	PriceAtAddition decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CartViewItem is a cart line joined with live product data for display.
// PriceAtAddition is the immutable snapshot taken when the line was created;
// Price is the current catalog price, which the total is computed from.
type CartViewItem struct {
	ProductID       int64           `json:"product_id"`
	ProductName     string          `json:"product_name"`
	Quantity        int             `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	PriceAtAddition decimal.Decimal `json:"price_at_addition"`
}

// CartView is the fully-materialized cart aggregate returned to callers.
type CartView struct {
	Items []CartViewItem  `json:"items"`
	Total decimal.Decimal `json:"total"`
}

func NewCartView(items []CartViewItem) *CartView {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	if items == nil {
		items = []CartViewItem{}
	}
	return &CartView{Items: items, Total: total}
}

// MergeAdjustment reports that a guest line could not be merged in full
// because live stock would have been exceeded.
type MergeAdjustment struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Requested   int    `json:"requested"`
	Merged      int    `json:"merged"`
}

// MergeResult is returned from a guest-to-user cart merge. Merged is false
// when there was nothing to merge (absent or already-merged guest cart).
type MergeResult struct {
	Merged      bool              `json:"merged"`
	Adjustments []MergeAdjustment `json:"adjustments,omitempty"`
}
