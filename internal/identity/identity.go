// Package identity provides the shopper identity consumed by the cart and
// checkout flows.
package identity

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrInvalidToken is returned by a Verifier for tokens it cannot accept.
var ErrInvalidToken = errors.New("invalid identity token")

// User is an authenticated shopper.
type User struct {
	ID          string
	Email       string
	DisplayName string
}

// StateFunc is called with the new user after every sign-in or sign-out.
// ok is false for a guest.
type StateFunc func(ctx context.Context, u User, ok bool)

// Port yields the current user, if any, and notifies about changes.
type Port interface {
	CurrentUser() (User, bool)
	OnAuthStateChange(fn StateFunc) (cancel func())
}

// Verifier turns a bearer token into a User.
type Verifier interface {
	Verify(ctx context.Context, token string) (User, error)
}
