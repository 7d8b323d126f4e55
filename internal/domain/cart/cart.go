// Package cart holds the shopper's line items and mirrors them to the
// shopper's persisted cart record.
package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/docstore"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrOutOfStock      = errors.New("product is out of stock")
	ErrItemNotFound    = errors.New("item not in cart")
)

// Collection holds one cart document per user, keyed by user id.
const Collection = "carts"

// StockReserver decrements product stock before an item is added.
type StockReserver interface {
	ReserveStock(ctx context.Context, productID string, qty int) error
}

// Item is one cart line. UnitPrice and Name are captured when the product is
// first added and never follow later catalog changes.
type Item struct {
	ProductID     string
	Name          string
	UnitPrice     decimal.Decimal
	Quantity      int
	ReservedUntil *time.Time
}

// LineTotal is UnitPrice × Quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Subtotal sums the line totals of items.
func Subtotal(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

// State of a cart.
type State int

const (
	StateEmpty State = iota
	StatePopulated
)

func (s State) String() string {
	if s == StatePopulated {
		return "populated"
	}
	return "empty"
}

func itemsToFields(items []Item) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		f := docstore.Fields{
			"productId": it.ProductID,
			"name":      it.Name,
			"unitPrice": it.UnitPrice.String(),
			"quantity":  int64(it.Quantity),
		}
		if it.ReservedUntil != nil {
			f["reservedUntil"] = it.ReservedUntil.UTC()
		}
		out = append(out, f)
	}
	return out
}

func itemsFromFields(data docstore.Fields) []Item {
	raw := data.Maps("items")
	items := make([]Item, 0, len(raw))
	for _, f := range raw {
		it := Item{
			ProductID: f.String("productId"),
			Name:      f.String("name"),
			UnitPrice: f.Decimal("unitPrice"),
			Quantity:  int(f.Int("quantity")),
		}
		if it.ProductID == "" || it.Quantity < 1 {
			continue
		}
		if t := f.Time("reservedUntil"); !t.IsZero() {
			it.ReservedUntil = &t
		}
		items = append(items, it)
	}
	return items
}

func cloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	for i := range out {
		if out[i].ReservedUntil != nil {
			t := *out[i].ReservedUntil
			out[i].ReservedUntil = &t
		}
	}
	return out
}
