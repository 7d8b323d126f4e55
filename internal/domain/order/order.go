package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Collection holds order documents keyed by order id.
const Collection = "orders"

// Status of an order. Only back-office transitions change it.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
	StatusDelivered:  {StatusRefunded},
}

// ParseStatus validates s.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled, StatusRefunded:
		return st, nil
	default:
		return "", errors.Errorf("unknown order status %q", s)
	}
}

// CanTransition reports whether an order in s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Order is a placed order. Line values are copies taken at checkout, so
// later catalog changes never alter it.
type Order struct {
	ID            string
	UserID        string
	Items         []Line
	Address       Address
	ShippingCost  decimal.Decimal
	Subtotal      decimal.Decimal
	Tax           decimal.Decimal
	Total         decimal.Decimal
	PaymentMethod string
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Line is one purchased product.
type Line struct {
	ProductID string
	Name      string
	Price     decimal.Decimal
	Quantity  int
}

// Address is a shipping address. Full, when set, wins over the structured
// fields.
type Address struct {
	Full       string
	Street     string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Format renders the address on one line: Full if present, otherwise
// "street, city, state postalCode, country" with empty parts left out.
func (a Address) Format() string {
	if full := strings.TrimSpace(a.Full); full != "" {
		return full
	}
	region := strings.TrimSpace(strings.TrimSpace(a.State) + " " + strings.TrimSpace(a.PostalCode))

	parts := make([]string, 0, 4)
	for _, p := range []string{a.Street, a.City, region, a.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// SavedAddress is an entry of a user's address book.
type SavedAddress struct {
	ID        string
	Address   Address
	Default   bool
	CreatedAt time.Time
}

// AddressCollection returns the address book collection of userID.
func AddressCollection(userID string) string {
	return "users/" + userID + "/addresses"
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// ListByUser returns the orders of userID, newest first. An empty userID
	// lists every order.
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	// Update atomically loads the order, applies fn and stores the result.
	Update(ctx context.Context, id string, fn func(o *Order) error) (*Order, error)
	// Watch calls onChange with the current list (as ListByUser) and again on
	// every change until the returned cancel is called.
	Watch(ctx context.Context, userID string, onChange func([]Order)) (cancel func(), err error)
}

// AddressBook stores saved shipping addresses.
type AddressBook interface {
	List(ctx context.Context, userID string) ([]SavedAddress, error)
	Save(ctx context.Context, userID string, a SavedAddress) error
}
