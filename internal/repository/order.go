package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/docstore"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository on a document store.
type OrderRepository struct {
	store docstore.Store
}

// NewOrderRepository returns an OrderRepository that uses the given store.
func NewOrderRepository(store docstore.Store) *OrderRepository {
	return &OrderRepository{store: store}
}

// Create persists a new order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	if err := r.store.Set(ctx, order.Collection, o.ID, orderFields(o)); err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns one order.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	doc, err := r.store.Get(ctx, order.Collection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return orderFromDocument(*doc), nil
}

// ListByUser returns orders newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]order.Order, error) {
	docs, err := r.store.Query(ctx, order.Collection, userQuery(userID, limit))
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", userID, err)
	}
	return ordersFromDocuments(docs), nil
}

// Update runs fn on the stored order inside an atomic operation.
func (r *OrderRepository) Update(ctx context.Context, id string, fn func(o *order.Order) error) (*order.Order, error) {
	var updated *order.Order
	err := r.store.RunAtomic(ctx, func(_ context.Context, tx docstore.Tx) error {
		doc, err := tx.Get(order.Collection, id)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return order.ErrNotFound
			}
			return err
		}
		o := orderFromDocument(*doc)
		if err := fn(o); err != nil {
			return err
		}
		updated = o
		return tx.Set(order.Collection, id, orderFields(o))
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Watch subscribes to the order list of userID.
func (r *OrderRepository) Watch(ctx context.Context, userID string, onChange func([]order.Order)) (func(), error) {
	unsub, err := r.store.Subscribe(ctx, order.Collection, userQuery(userID, 0), func(docs []docstore.Document) {
		onChange(ordersFromDocuments(docs))
	})
	if err != nil {
		return nil, fmt.Errorf("watching orders of %q: %w", userID, err)
	}
	return unsub, nil
}

func userQuery(userID string, limit int) docstore.Query {
	q := docstore.Query{OrderBy: "createdAt", Desc: true, Limit: limit}
	if userID != "" {
		q.Filters = []docstore.Filter{docstore.Where("userId", docstore.OpEq, userID)}
	}
	return q
}

func orderFields(o *order.Order) docstore.Fields {
	items := make([]any, len(o.Items))
	for i, l := range o.Items {
		items[i] = docstore.Fields{
			"productId": l.ProductID,
			"name":      l.Name,
			"price":     l.Price.String(),
			"quantity":  int64(l.Quantity),
		}
	}
	return docstore.Fields{
		"userId":          o.UserID,
		"items":           items,
		"shippingAddress": addressFields(o.Address),
		"shippingCost":    o.ShippingCost.String(),
		"subtotal":        o.Subtotal.String(),
		"tax":             o.Tax.String(),
		"total":           o.Total.String(),
		"paymentMethod":   o.PaymentMethod,
		"status":          string(o.Status),
		"createdAt":       o.CreatedAt,
		"updatedAt":       o.UpdatedAt,
	}
}

func orderFromDocument(d docstore.Document) *order.Order {
	raw := d.Data.Maps("items")
	lines := make([]order.Line, len(raw))
	for i, f := range raw {
		lines[i] = order.Line{
			ProductID: f.String("productId"),
			Name:      f.String("name"),
			Price:     f.Decimal("price"),
			Quantity:  int(f.Int("quantity")),
		}
	}
	return &order.Order{
		ID:            d.ID,
		UserID:        d.Data.String("userId"),
		Items:         lines,
		Address:       addressFromFields(d.Data.Map("shippingAddress")),
		ShippingCost:  d.Data.Decimal("shippingCost"),
		Subtotal:      d.Data.Decimal("subtotal"),
		Tax:           d.Data.Decimal("tax"),
		Total:         d.Data.Decimal("total"),
		PaymentMethod: d.Data.String("paymentMethod"),
		Status:        order.Status(d.Data.String("status")),
		CreatedAt:     d.Data.Time("createdAt"),
		UpdatedAt:     d.Data.Time("updatedAt"),
	}
}

func ordersFromDocuments(docs []docstore.Document) []order.Order {
	out := make([]order.Order, len(docs))
	for i, d := range docs {
		out[i] = *orderFromDocument(d)
	}
	return out
}
