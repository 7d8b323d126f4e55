// Package stock reserves product inventory at add-to-cart time.
package stock

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/docstore"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

// ErrInsufficientStock is returned when the atomic check finds fewer units
// than requested. It is a business outcome and is never retried.
var ErrInsufficientStock = errors.New("insufficient stock")

// ErrReservationFailed matches every *ReservationFailedError.
var ErrReservationFailed = errors.New("stock reservation failed")

// ReservationFailedError reports an infrastructure failure that survived the
// store's own retries.
type ReservationFailedError struct {
	ProductID string
	Err       error
}

func (e *ReservationFailedError) Error() string {
	return "reserve stock for product " + e.ProductID + ": " + e.Err.Error()
}

func (e *ReservationFailedError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrReservationFailed) hold.
func (e *ReservationFailedError) Is(target error) bool { return target == ErrReservationFailed }

// Reserver decrements stock through the store's atomic primitive.
type Reserver struct {
	store  docstore.Store
	lg     *zap.Logger
	tracer trace.Tracer
	result metric.Int64Counter
	units  metric.Int64Counter
}

// NewReserver creates a Reserver.
func NewReserver(store docstore.Store, lg *zap.Logger, tp trace.TracerProvider, mp metric.MeterProvider) (*Reserver, error) {
	meter := mp.Meter("kart/stock")
	result, err := meter.Int64Counter("kart.stock.reservations",
		metric.WithDescription("Stock reservation attempts by result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create reservations counter")
	}
	units, err := meter.Int64Counter("kart.stock.reserved_units",
		metric.WithDescription("Units of stock reserved"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create reserved units counter")
	}
	return &Reserver{
		store:  store,
		lg:     lg,
		tracer: tp.Tracer("kart/stock"),
		result: result,
		units:  units,
	}, nil
}

// ReserveStock atomically checks that productID has at least qty units and
// decrements it. On any error nothing is written.
func (r *Reserver) ReserveStock(ctx context.Context, productID string, qty int) (rerr error) {
	ctx, span := r.tracer.Start(ctx, "stock.Reserve", trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.Int("quantity", qty),
	))
	defer func() {
		r.result.Add(ctx, 1, metric.WithAttributes(attribute.String("result", resultOf(rerr))))
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if qty < 1 {
		return errors.Errorf("invalid quantity %d", qty)
	}

	var left int64
	err := r.store.RunAtomic(ctx, func(_ context.Context, tx docstore.Tx) error {
		doc, err := tx.Get(product.Collection, productID)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return product.ErrNotFound
			}
			return err
		}

		stock := doc.Data.Int(product.FieldStock)
		if stock < int64(qty) {
			return ErrInsufficientStock
		}
		left = stock - int64(qty)
		return tx.Set(product.Collection, productID, docstore.Fields{
			product.FieldStock: left,
		}, docstore.Merge())
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, product.ErrNotFound):
		return err
	default:
		r.lg.Warn("Stock reservation failed",
			zap.String("product_id", productID),
			zap.Int("quantity", qty),
			zap.Error(err),
		)
		return &ReservationFailedError{ProductID: productID, Err: err}
	}

	r.units.Add(ctx, int64(qty), metric.WithAttributes(attribute.String("product.id", productID)))
	r.lg.Debug("Stock reserved",
		zap.String("product_id", productID),
		zap.Int("quantity", qty),
		zap.Int64("left", left),
	)
	return nil
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient"
	case errors.Is(err, product.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrReservationFailed):
		return "failed"
	default:
		return "invalid"
	}
}
