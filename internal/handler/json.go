package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/identity"
)

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}

func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeUser(e *jx.Encoder, u identity.User) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(u.ID) })
		if u.Email != "" {
			e.Field("email", func(e *jx.Encoder) { e.Str(u.Email) })
		}
		if u.DisplayName != "" {
			e.Field("displayName", func(e *jx.Encoder) { e.Str(u.DisplayName) })
		}
	})
}

func encodeProduct(e *jx.Encoder, p product.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("category", func(e *jx.Encoder) { e.Str(p.Category) })
		e.Field("price", func(e *jx.Encoder) { encodeMoney(e, p.Price) })
		if p.SalePrice.Valid {
			e.Field("salePrice", func(e *jx.Encoder) { encodeMoney(e, p.SalePrice.Decimal) })
		}
		e.Field("stock", func(e *jx.Encoder) { e.Int64(p.Stock) })
		e.Field("image", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("thumbnail", func(e *jx.Encoder) { e.Str(p.Image.Thumbnail) })
				e.Field("mobile", func(e *jx.Encoder) { e.Str(p.Image.Mobile) })
				e.Field("tablet", func(e *jx.Encoder) { e.Str(p.Image.Tablet) })
				e.Field("desktop", func(e *jx.Encoder) { e.Str(p.Image.Desktop) })
			})
		})
	})
}

func encodeCart(e *jx.Encoder, userID string, state cart.State, items []cart.Item) {
	e.Obj(func(e *jx.Encoder) {
		if userID != "" {
			e.Field("userId", func(e *jx.Encoder) { e.Str(userID) })
		}
		e.Field("state", func(e *jx.Encoder) { e.Str(state.String()) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
						e.Field("unitPrice", func(e *jx.Encoder) { encodeMoney(e, it.UnitPrice) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						if it.ReservedUntil != nil {
							e.Field("reservedUntil", func(e *jx.Encoder) { encodeTime(e, *it.ReservedUntil) })
						}
					})
				}
			})
		})
		e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, cart.Subtotal(items)) })
	})
}

func encodeAddress(e *jx.Encoder, a order.Address) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("full", func(e *jx.Encoder) { e.Str(a.Full) })
		for _, f := range []struct{ k, v string }{
			{"street", a.Street},
			{"city", a.City},
			{"state", a.State},
			{"postalCode", a.PostalCode},
			{"country", a.Country},
		} {
			if f.v != "" {
				e.Field(f.k, func(e *jx.Encoder) { e.Str(f.v) })
			}
		}
	})
}

func encodeOrder(e *jx.Encoder, o order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("userId", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(l.ProductID) })
						e.Field("name", func(e *jx.Encoder) { e.Str(l.Name) })
						e.Field("price", func(e *jx.Encoder) { encodeMoney(e, l.Price) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
					})
				}
			})
		})
		e.Field("shippingAddress", func(e *jx.Encoder) { encodeAddress(e, o.Address) })
		e.Field("shippingCost", func(e *jx.Encoder) { encodeMoney(e, o.ShippingCost) })
		e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, o.Subtotal) })
		e.Field("tax", func(e *jx.Encoder) { encodeMoney(e, o.Tax) })
		e.Field("total", func(e *jx.Encoder) { encodeMoney(e, o.Total) })
		e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(o.PaymentMethod) })
		e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
		e.Field("updatedAt", func(e *jx.Encoder) { encodeTime(e, o.UpdatedAt) })
	})
}

func encodeOrders(e *jx.Encoder, orders []order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("orders", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, o := range orders {
					encodeOrder(e, o)
				}
			})
		})
	})
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Zero, errors.New("expected number")
	}
}

type addItemRequest struct {
	ProductID string
	Quantity  int
}

func decodeAddItem(body []byte) (addItemRequest, error) {
	var req addItemRequest
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			req.ProductID, err = d.Str()
		case "quantity":
			req.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

func decodeCheckout(body []byte) (order.PlaceOrderRequest, error) {
	var req order.PlaceOrderRequest
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "address":
			req.Address, err = decodeAddress(d)
		case "shippingCost":
			req.ShippingCost, err = decodeDecimal(d)
		case "paymentMethod":
			req.PaymentMethod, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

func decodeAddress(d *jx.Decoder) (order.Address, error) {
	var a order.Address
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var dst *string
		switch key {
		case "full":
			dst = &a.Full
		case "street":
			dst = &a.Street
		case "city":
			dst = &a.City
		case "state":
			dst = &a.State
		case "postalCode":
			dst = &a.PostalCode
		case "country":
			dst = &a.Country
		default:
			return d.Skip()
		}
		s, err := d.Str()
		*dst = s
		return err
	})
	return a, err
}

func decodeStatus(body []byte) (string, error) {
	var status string
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		var err error
		status, err = d.Str()
		return err
	})
	return status, err
}
