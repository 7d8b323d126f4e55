package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/session"
)

const (
	defaultOrderLimit = 50
	maxOrderLimit     = 200
)

// Checkout places an order from the session cart. Concurrent submissions
// from one session are coalesced into a single order.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request, s *session.Shopper) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	req, err := decodeCheckout(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed checkout request")
		return
	}

	ctx := context.WithoutCancel(r.Context())
	v, _, err := s.Do("checkout", func() (any, error) {
		return h.writer.PlaceOrder(ctx, s.Cart.UserID(), s.Cart, req)
	})
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	orderID := v.(string)

	w.Header().Set("Location", "/api/orders/"+orderID)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("orderId", func(e *jx.Encoder) { e.Str(orderID) })
		})
	})
}

// ListMyOrders returns the signed-in user's orders, newest first.
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request, s *session.Shopper) {
	userID := s.Cart.UserID()
	if userID == "" {
		writeDomainError(r.Context(), w, order.ErrUnauthenticated)
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	orders, err := h.desk.ListByUser(r.Context(), userID, limit)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrders(e, orders) })
}

// GetMyOrder returns one of the signed-in user's orders. Orders of other
// users are reported as missing.
func (h *Handler) GetMyOrder(w http.ResponseWriter, r *http.Request, s *session.Shopper) {
	userID := s.Cart.UserID()
	if userID == "" {
		writeDomainError(r.Context(), w, order.ErrUnauthenticated)
		return
	}
	o, err := h.desk.Get(r.Context(), r.PathValue("id"))
	if err == nil && o.UserID != userID {
		err = order.ErrNotFound
	}
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, *o) })
}

// AdminListOrders lists orders, optionally for one user.
func (h *Handler) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	orders, err := h.desk.ListByUser(r.Context(), r.URL.Query().Get("userId"), limit)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrders(e, orders) })
}

// AdminGetOrder returns any order.
func (h *Handler) AdminGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.desk.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, *o) })
}

// AdminUpdateStatus moves an order through its lifecycle.
func (h *Handler) AdminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	raw, err := decodeStatus(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed status request")
		return
	}
	next, err := order.ParseStatus(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.desk.UpdateStatus(r.Context(), r.PathValue("id"), next)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, *o) })
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultOrderLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return min(n, maxOrderLimit), true
}
