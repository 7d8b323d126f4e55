package repository

import (
	"context"
	"fmt"

	"github.com/xenking/kart-checkout/internal/docstore"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

var _ order.AddressBook = (*AddressRepository)(nil)

// AddressRepository keeps saved addresses under users/{uid}/addresses.
type AddressRepository struct {
	store docstore.Store
}

// NewAddressRepository returns an AddressRepository that uses the given store.
func NewAddressRepository(store docstore.Store) *AddressRepository {
	return &AddressRepository{store: store}
}

// List returns the saved addresses of userID, default first.
func (r *AddressRepository) List(ctx context.Context, userID string) ([]order.SavedAddress, error) {
	docs, err := r.store.Query(ctx, order.AddressCollection(userID), docstore.Query{})
	if err != nil {
		return nil, fmt.Errorf("listing addresses of %q: %w", userID, err)
	}
	out := make([]order.SavedAddress, 0, len(docs))
	for _, d := range docs {
		a := order.SavedAddress{
			ID:        d.ID,
			Address:   addressFromFields(d.Data),
			Default:   d.Data.Bool("default"),
			CreatedAt: d.Data.Time("createdAt"),
		}
		if a.Default {
			out = append([]order.SavedAddress{a}, out...)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Save upserts a.
func (r *AddressRepository) Save(ctx context.Context, userID string, a order.SavedAddress) error {
	f := addressFields(a.Address)
	f["default"] = a.Default
	f["createdAt"] = a.CreatedAt
	if err := r.store.Set(ctx, order.AddressCollection(userID), a.ID, f, docstore.Merge()); err != nil {
		return fmt.Errorf("saving address %q of %q: %w", a.ID, userID, err)
	}
	return nil
}

func addressFields(a order.Address) docstore.Fields {
	return docstore.Fields{
		"full":       a.Full,
		"street":     a.Street,
		"city":       a.City,
		"state":      a.State,
		"postalCode": a.PostalCode,
		"country":    a.Country,
	}
}

func addressFromFields(f docstore.Fields) order.Address {
	return order.Address{
		Full:       f.String("full"),
		Street:     f.String("street"),
		City:       f.String("city"),
		State:      f.String("state"),
		PostalCode: f.String("postalCode"),
		Country:    f.String("country"),
	}
}
