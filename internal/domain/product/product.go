package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Collection holds product documents keyed by product id.
const Collection = "products"

// Document field names shared by every writer of product documents.
const (
	FieldName      = "name"
	FieldPrice     = "price"
	FieldSalePrice = "salePrice"
	FieldStock     = "stock"
	FieldCategory  = "category"
	FieldImage     = "image"
)

// Product represents a catalog item available for purchase.
type Product struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	SalePrice decimal.NullDecimal
	Stock     int64
	Category  string
	Image     Image
}

// EffectivePrice is the sale price when set, otherwise the list price.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.SalePrice.Valid {
		return p.SalePrice.Decimal
	}
	return p.Price
}

// InStock reports whether at least one unit is left.
func (p Product) InStock() bool {
	return p.Stock > 0
}

// Image holds responsive image URLs for a product.
type Image struct {
	Thumbnail string
	Mobile    string
	Tablet    string
	Desktop   string
}

// Repository defines operations on the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	Put(ctx context.Context, p Product) error
}
