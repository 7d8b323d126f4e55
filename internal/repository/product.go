package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/docstore"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository on a document store.
type ProductRepository struct {
	store docstore.Store
}

// NewProductRepository returns a ProductRepository that uses the given store.
func NewProductRepository(store docstore.Store) *ProductRepository {
	return &ProductRepository{store: store}
}

// List returns all products from the catalog ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	docs, err := r.store.Query(ctx, product.Collection, docstore.Query{})
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	out := make([]product.Product, 0, len(docs))
	for _, d := range docs {
		out = append(out, productFromDocument(d))
	}
	return out, nil
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	doc, err := r.store.Get(ctx, product.Collection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	p := productFromDocument(*doc)
	return &p, nil
}

// GetByIDs returns the products matching the given IDs, skipping unknown ones.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		p, err := r.GetByID(ctx, id)
		if errors.Is(err, product.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

// Put creates or replaces a product document.
func (r *ProductRepository) Put(ctx context.Context, p product.Product) error {
	if err := r.store.Set(ctx, product.Collection, p.ID, productFields(p)); err != nil {
		return fmt.Errorf("putting product %q: %w", p.ID, err)
	}
	return nil
}

func productFields(p product.Product) docstore.Fields {
	f := docstore.Fields{
		product.FieldName:     p.Name,
		product.FieldPrice:    p.Price.String(),
		product.FieldStock:    p.Stock,
		product.FieldCategory: p.Category,
		product.FieldImage: docstore.Fields{
			"thumbnail": p.Image.Thumbnail,
			"mobile":    p.Image.Mobile,
			"tablet":    p.Image.Tablet,
			"desktop":   p.Image.Desktop,
		},
	}
	if p.SalePrice.Valid {
		f[product.FieldSalePrice] = p.SalePrice.Decimal.String()
	}
	return f
}

func productFromDocument(d docstore.Document) product.Product {
	img := d.Data.Map(product.FieldImage)
	return product.Product{
		ID:        d.ID,
		Name:      d.Data.String(product.FieldName),
		Price:     d.Data.Decimal(product.FieldPrice),
		SalePrice: d.Data.NullDecimal(product.FieldSalePrice),
		Stock:     d.Data.Int(product.FieldStock),
		Category:  d.Data.String(product.FieldCategory),
		Image: product.Image{
			Thumbnail: img.String("thumbnail"),
			Mobile:    img.String("mobile"),
			Tablet:    img.String("tablet"),
			Desktop:   img.String("desktop"),
		},
	}
}
