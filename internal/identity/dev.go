package identity

import (
	"context"
	"strings"
)

// DevVerifier trusts the token itself, for local development and tests.
// Tokens have the form "uid", "uid|email" or "uid|email|display name".
type DevVerifier struct{}

// Verify parses token.
func (DevVerifier) Verify(_ context.Context, token string) (User, error) {
	parts := strings.SplitN(strings.TrimSpace(token), "|", 3)
	u := User{ID: strings.TrimSpace(parts[0])}
	if u.ID == "" {
		return User{}, ErrInvalidToken
	}
	if len(parts) > 1 {
		u.Email = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		u.DisplayName = strings.TrimSpace(parts[2])
	}
	return u, nil
}
