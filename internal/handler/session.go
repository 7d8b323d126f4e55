package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/identity"
	"github.com/xenking/kart-checkout/internal/session"
)

// CreateSession starts a guest session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Create(r.Context())
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	w.Header().Set(SessionHeader, s.ID)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("sessionId", func(e *jx.Encoder) { e.Str(s.ID) })
		})
	})
}

// EndSession flushes the cart and forgets the session.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request, s *session.Shopper) {
	if err := h.sessions.End(r.Context(), s.ID); err != nil {
		zctx.From(r.Context()).Warn("End session", zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

// Login verifies the bearer token and binds the session (and its cart) to
// the user.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request, s *session.Shopper) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	u, err := h.verifier.Verify(r.Context(), strings.TrimSpace(token))
	if err != nil {
		if !errors.Is(err, identity.ErrInvalidToken) {
			zctx.From(r.Context()).Warn("Verify token", zap.Error(err))
		}
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	s.Identity.SignIn(r.Context(), u)
	if s.Cart.UserID() != u.ID {
		// The stored cart could not be loaded; retry once before giving up.
		if err := s.Cart.SwitchUser(r.Context(), u, true); err != nil {
			s.Identity.SignOut(r.Context())
			zctx.From(r.Context()).Warn("Load cart on sign in", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, please retry")
			return
		}
	}
	zctx.From(r.Context()).Info("Signed in", zap.String("user_id", u.ID))

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("user", func(e *jx.Encoder) { encodeUser(e, u) })
			e.Field("cart", func(e *jx.Encoder) {
				encodeCart(e, s.Cart.UserID(), s.Cart.State(), s.Cart.Items())
			})
		})
	})
}

// Logout returns the session to a guest with an empty cart.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request, s *session.Shopper) {
	s.Identity.SignOut(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
