package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/cart"
)

// Cart is the part of the shopper's cart the writer needs.
type Cart interface {
	// Hold snapshots the lines and blocks other changes until release.
	Hold() (items []cart.Item, release func())
	Clear(ctx context.Context) error
}

// PlaceOrderRequest holds checkout input besides the cart itself.
type PlaceOrderRequest struct {
	Address       Address
	ShippingCost  decimal.Decimal
	PaymentMethod string
}

// Writer turns a cart into an order.
type Writer struct {
	orders    Repository
	addresses AddressBook
	lg        *zap.Logger
	now       func() time.Time

	tracer trace.Tracer
	placed metric.Int64Counter
}

// NewWriter creates a Writer.
func NewWriter(
	orders Repository,
	addresses AddressBook,
	lg *zap.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (*Writer, error) {
	placed, err := mp.Meter("kart/order").Int64Counter("kart.orders.placed",
		metric.WithDescription("Checkout attempts by result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create orders counter")
	}
	return &Writer{
		orders:    orders,
		addresses: addresses,
		lg:        lg,
		now:       time.Now,
		tracer:    tp.Tracer("kart/order"),
		placed:    placed,
	}, nil
}

// PlaceOrder writes a pending order for the items of c and clears c.
//
// Stock of every line was already reserved when it was added to the cart;
// this write is not atomic with those reservations. The cart is held from the
// snapshot until it is cleared, so no line reserved meanwhile is dropped.
// When the write fails the cart is left untouched.
func (w *Writer) PlaceOrder(ctx context.Context, userID string, c Cart, req PlaceOrderRequest) (_ string, rerr error) {
	ctx, span := w.tracer.Start(ctx, "order.Place", trace.WithAttributes(attribute.String("user.id", userID)))
	defer func() {
		w.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("result", placeResult(rerr))))
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if userID == "" {
		return "", ErrUnauthenticated
	}
	items, release := c.Hold()
	defer release()
	if len(items) == 0 {
		return "", ErrEmptyCart
	}
	full := req.Address.Format()
	if full == "" {
		return "", ErrMissingAddress
	}
	if req.ShippingCost.IsNegative() {
		return "", ErrInvalidShipping
	}

	lines := make([]Line, len(items))
	for i, it := range items {
		lines[i] = Line{
			ProductID: it.ProductID,
			Name:      it.Name,
			Price:     it.UnitPrice,
			Quantity:  it.Quantity,
		}
	}
	subtotal := cart.Subtotal(items)
	addr := req.Address
	addr.Full = full

	now := w.now().UTC()
	o := &Order{
		ID:            uuid.New().String(),
		UserID:        userID,
		Items:         lines,
		Address:       addr,
		ShippingCost:  req.ShippingCost,
		Subtotal:      subtotal,
		Tax:           decimal.Zero,
		Total:         subtotal.Add(req.ShippingCost),
		PaymentMethod: req.PaymentMethod,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	span.SetAttributes(attribute.String("order.id", o.ID))

	if err := w.orders.Create(ctx, o); err != nil {
		return "", &OrderWriteFailedError{OrderID: o.ID, Err: err}
	}

	lg := w.lg.With(zap.String("order_id", o.ID), zap.String("user_id", userID))
	if err := w.saveFirstAddress(ctx, userID, addr, now); err != nil {
		lg.Warn("Save default address", zap.Error(err))
	}
	if err := c.Clear(ctx); err != nil {
		lg.Warn("Clear cart after order", zap.Error(err))
	}

	lg.Info("Order placed",
		zap.Int("lines", len(lines)),
		zap.String("total", o.Total.StringFixed(2)),
	)
	return o.ID, nil
}

// saveFirstAddress stores addr as the default address when the user has
// none yet.
func (w *Writer) saveFirstAddress(ctx context.Context, userID string, addr Address, now time.Time) error {
	saved, err := w.addresses.List(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "list addresses")
	}
	if len(saved) > 0 {
		return nil
	}
	return w.addresses.Save(ctx, userID, SavedAddress{
		ID:        "default",
		Address:   addr,
		Default:   true,
		CreatedAt: now,
	})
}

func placeResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrOrderWriteFailed):
		return "write_failed"
	default:
		return "rejected"
	}
}
