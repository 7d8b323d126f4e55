// Package handler exposes the cart and checkout flows over HTTP.
package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/stock"
	"github.com/xenking/kart-checkout/internal/identity"
	"github.com/xenking/kart-checkout/internal/session"
)

// SessionHeader carries the shopper session id.
const SessionHeader = "X-Session-ID"

const maxBodyBytes = 1 << 16

// Handler serves the storefront API.
type Handler struct {
	sessions *session.Registry
	products product.Repository
	writer   *order.Writer
	desk     *order.Desk
	verifier identity.Verifier
	admin    *SecurityHandler
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	sessions *session.Registry,
	products product.Repository,
	writer *order.Writer,
	desk *order.Desk,
	verifier identity.Verifier,
	admin *SecurityHandler,
) *Handler {
	return &Handler{
		sessions: sessions,
		products: products,
		writer:   writer,
		desk:     desk,
		verifier: verifier,
		admin:    admin,
	}
}

// Register adds the API routes to mux under /api.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.CreateSession)
	mux.HandleFunc("DELETE /api/sessions/current", h.withShopper(h.EndSession))
	mux.HandleFunc("POST /api/sessions/current/login", h.withShopper(h.Login))
	mux.HandleFunc("POST /api/sessions/current/logout", h.withShopper(h.Logout))

	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("GET /api/products/{id}", h.GetProduct)

	mux.HandleFunc("GET /api/cart", h.withShopper(h.GetCart))
	mux.HandleFunc("POST /api/cart/items", h.withShopper(h.AddItem))
	mux.HandleFunc("DELETE /api/cart/items/{productId}", h.withShopper(h.RemoveItem))
	mux.HandleFunc("POST /api/cart/items/{productId}/increase", h.withShopper(h.IncreaseQty))
	mux.HandleFunc("POST /api/cart/items/{productId}/decrease", h.withShopper(h.DecreaseQty))

	mux.HandleFunc("POST /api/checkout", h.withShopper(h.Checkout))
	mux.HandleFunc("GET /api/orders", h.withShopper(h.ListMyOrders))
	mux.HandleFunc("GET /api/orders/stream", h.withShopper(h.StreamMyOrders))
	mux.HandleFunc("GET /api/orders/{id}", h.withShopper(h.GetMyOrder))

	mux.Handle("GET /api/admin/orders", h.admin.Require(http.HandlerFunc(h.AdminListOrders)))
	mux.Handle("GET /api/admin/orders/{id}", h.admin.Require(http.HandlerFunc(h.AdminGetOrder)))
	mux.Handle("PATCH /api/admin/orders/{id}/status", h.admin.Require(http.HandlerFunc(h.AdminUpdateStatus)))
}

type shopperHandler func(w http.ResponseWriter, r *http.Request, s *session.Shopper)

// withShopper resolves the session named by SessionHeader.
func (h *Handler) withShopper(next shopperHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := h.sessions.Get(r.Header.Get(SessionHeader))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unknown or expired session")
			return
		}
		ctx := zctx.With(r.Context(), zap.String("session_id", s.ID))
		next(w, r.WithContext(ctx), s)
	}
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

// writeDomainError maps domain errors to HTTP responses. Unknown errors are
// logged and reported as 500.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		status int
		msg    = err.Error()
	)
	switch {
	case errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrMissingAddress),
		errors.Is(err, order.ErrInvalidShipping):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, cart.ErrOutOfStock),
		errors.Is(err, stock.ErrInsufficientStock),
		errors.Is(err, order.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, product.ErrNotFound),
		errors.Is(err, cart.ErrItemNotFound),
		errors.Is(err, order.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, order.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, stock.ErrReservationFailed),
		errors.Is(err, order.ErrOrderWriteFailed):
		status = http.StatusServiceUnavailable
		msg = "temporarily unavailable, please retry"
		zctx.From(ctx).Warn("Store failure", zap.Error(err))
	default:
		status = http.StatusInternalServerError
		msg = "internal error"
		zctx.From(ctx).Error("Request failed", zap.Error(err))
	}
	writeError(w, status, msg)
}
