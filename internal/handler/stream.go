package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/session"
)

// StreamMyOrders pushes the signed-in user's order list as server-sent
// events whenever it changes. Only the latest list is kept for slow readers.
func (h *Handler) StreamMyOrders(w http.ResponseWriter, r *http.Request, s *session.Shopper) {
	userID := s.Cart.UserID()
	if userID == "" {
		writeDomainError(r.Context(), w, order.ErrUnauthenticated)
		return
	}
	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	ctx := r.Context()
	updates := make(chan []order.Order, 1)
	cancel, err := h.desk.Watch(ctx, userID, func(orders []order.Order) {
		select {
		case <-updates:
		default:
		}
		updates <- orders
	})
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		zctx.From(ctx).Debug("Streaming unsupported", zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case orders := <-updates:
			var e jx.Encoder
			encodeOrders(&e, orders)
			if _, err := w.Write(append(append([]byte("event: orders\ndata: "), e.Bytes()...), '\n', '\n')); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
