package order

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Desk is the back-office view of orders.
type Desk struct {
	orders Repository
	lg     *zap.Logger
}

// NewDesk creates a Desk.
func NewDesk(orders Repository, lg *zap.Logger) *Desk {
	return &Desk{orders: orders, lg: lg}
}

// Get returns one order.
func (d *Desk) Get(ctx context.Context, id string) (*Order, error) {
	return d.orders.Get(ctx, id)
}

// ListByUser returns the orders of userID, newest first.
func (d *Desk) ListByUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	return d.orders.ListByUser(ctx, userID, limit)
}

// UpdateStatus moves an order to next if the transition is allowed.
func (d *Desk) UpdateStatus(ctx context.Context, id string, next Status) (*Order, error) {
	var from Status
	o, err := d.orders.Update(ctx, id, func(o *Order) error {
		from = o.Status
		if !o.Status.CanTransition(next) {
			return &InvalidTransitionError{From: o.Status, To: next}
		}
		o.Status = next
		o.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.lg.Info("Order status changed",
		zap.String("order_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(next)),
	)
	return o, nil
}

// Watch streams the order list of userID (every order when empty).
func (d *Desk) Watch(ctx context.Context, userID string, onChange func([]Order)) (cancel func(), err error) {
	return d.orders.Watch(ctx, userID, onChange)
}
