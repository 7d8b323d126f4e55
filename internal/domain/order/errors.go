package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for checkout validation.
var (
	ErrUnauthenticated   = errors.New("sign in required to check out")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrMissingAddress    = errors.New("shipping address required")
	ErrInvalidShipping   = errors.New("shipping cost must not be negative")
	ErrNotFound          = errors.New("order not found")
	ErrOrderWriteFailed  = errors.New("order write failed")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// OrderWriteFailedError wraps a store failure while writing a new order.
type OrderWriteFailedError struct {
	OrderID string
	Err     error
}

func (e *OrderWriteFailedError) Error() string {
	return fmt.Sprintf("write order %s: %v", e.OrderID, e.Err)
}

func (e *OrderWriteFailedError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrOrderWriteFailed) hold.
func (e *OrderWriteFailedError) Is(target error) bool { return target == ErrOrderWriteFailed }

// InvalidTransitionError rejects a status change.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order status cannot change from %s to %s", e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) hold.
func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }
