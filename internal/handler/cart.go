package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/session"
)

// ListProducts returns the catalog, or the products named by a
// comma-separated ids parameter.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	var (
		products []product.Product
		err      error
	)
	if raw := r.URL.Query().Get("ids"); raw != "" {
		products, err = h.products.GetByIDs(r.Context(), strings.Split(raw, ","))
	} else {
		products, err = h.products.List(r.Context())
	}
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, p := range products {
				encodeProduct(e, p)
			}
		})
	})
}

// GetProduct returns one product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeProduct(e, *p) })
}

// GetCart returns the session cart.
func (h *Handler) GetCart(w http.ResponseWriter, _ *http.Request, s *session.Shopper) {
	writeCart(w, http.StatusOK, s.Cart)
}

// AddItem reserves stock and adds it to the cart. Identical submissions
// racing in one session share a single reservation.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request, s *session.Shopper) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	req, err := decodeAddItem(body)
	if err != nil || req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "productId and quantity required")
		return
	}

	// Shared work must outlive the caller that started it.
	ctx := context.WithoutCancel(r.Context())
	key := "add:" + req.ProductID + ":" + strconv.Itoa(req.Quantity)
	_, _, err = s.Do(key, func() (any, error) {
		p, err := h.products.GetByID(ctx, req.ProductID)
		if err != nil {
			return nil, err
		}
		return nil, s.Cart.AddItem(ctx, *p, req.Quantity)
	})
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, s.Cart)
}

// RemoveItem drops a line.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request, s *session.Shopper) {
	s.Cart.RemoveItem(r.PathValue("productId"))
	writeCart(w, http.StatusOK, s.Cart)
}

// IncreaseQty adds one unit to a line.
func (h *Handler) IncreaseQty(w http.ResponseWriter, r *http.Request, s *session.Shopper) {
	if err := s.Cart.IncreaseQty(r.PathValue("productId")); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, s.Cart)
}

// DecreaseQty removes one unit from a line.
func (h *Handler) DecreaseQty(w http.ResponseWriter, r *http.Request, s *session.Shopper) {
	if err := s.Cart.DecreaseQty(r.PathValue("productId")); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, s.Cart)
}

func writeCart(w http.ResponseWriter, status int, c *cart.Manager) {
	userID, state, items := c.UserID(), c.State(), c.Items()
	writeJSON(w, status, func(e *jx.Encoder) { encodeCart(e, userID, state, items) })
}
