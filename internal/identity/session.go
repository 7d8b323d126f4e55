package identity

import (
	"context"
	"sync"
)

var _ Port = (*Session)(nil)

// Session is the identity state of one shopper session. It starts as a guest.
type Session struct {
	mu        sync.Mutex
	user      User
	signedIn  bool
	nextID    int
	listeners map[int]StateFunc
}

// NewSession returns a guest session.
func NewSession() *Session {
	return &Session{listeners: make(map[int]StateFunc)}
}

// CurrentUser returns the signed-in user.
func (s *Session) CurrentUser() (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user, s.signedIn
}

// OnAuthStateChange registers fn. Listeners run synchronously, in the
// goroutine calling SignIn or SignOut.
func (s *Session) OnAuthStateChange(fn StateFunc) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// SignIn makes u the current user. Signing in as the current user is a no-op.
func (s *Session) SignIn(ctx context.Context, u User) {
	s.mu.Lock()
	if s.signedIn && s.user.ID == u.ID {
		s.user = u
		s.mu.Unlock()
		return
	}
	s.user, s.signedIn = u, true
	fns := s.snapshot()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ctx, u, true)
	}
}

// SignOut returns the session to guest state.
func (s *Session) SignOut(ctx context.Context) {
	s.mu.Lock()
	if !s.signedIn {
		s.mu.Unlock()
		return
	}
	s.user, s.signedIn = User{}, false
	fns := s.snapshot()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ctx, User{}, false)
	}
}

func (s *Session) snapshot() []StateFunc {
	fns := make([]StateFunc, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	return fns
}
