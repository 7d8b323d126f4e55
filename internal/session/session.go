// Package session keeps the shopper sessions of the API server: one identity
// and one cart per session.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/identity"
)

// ErrUnknownSession is returned for missing or evicted sessions.
var ErrUnknownSession = errors.New("unknown session")

// Shopper is one browsing session.
type Shopper struct {
	ID       string
	Identity *identity.Session
	Cart     *cart.Manager

	lastSeen atomic.Int64
	inflight singleflight.Group
}

// Do runs fn once per key at a time: a duplicate submission made while the
// first is in flight waits for it and gets its result. shared is true for
// results handed to more than one caller.
func (s *Shopper) Do(key string, fn func() (any, error)) (v any, shared bool, err error) {
	v, err, shared = s.inflight.Do(key, fn)
	return v, shared, err
}

func (s *Shopper) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *Shopper) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastSeen.Load()))
}

// CartFactory creates the cart of a new session.
type CartFactory func() *cart.Manager

// Options configures a Registry.
type Options struct {
	IdleTTL time.Duration
	Now     func() time.Time
}

// Registry holds live sessions.
type Registry struct {
	newCart CartFactory
	lg      *zap.Logger
	idleTTL time.Duration
	now     func() time.Time

	mu       sync.Mutex
	shoppers map[string]*Shopper
}

// NewRegistry creates a Registry.
func NewRegistry(newCart CartFactory, lg *zap.Logger, opts Options) *Registry {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 30 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		newCart:  newCart,
		lg:       lg,
		idleTTL:  opts.IdleTTL,
		now:      opts.Now,
		shoppers: make(map[string]*Shopper),
	}
}

// Create starts a guest session whose cart follows its identity.
func (r *Registry) Create(ctx context.Context) (*Shopper, error) {
	s := &Shopper{
		ID:       uuid.New().String(),
		Identity: identity.NewSession(),
		Cart:     r.newCart(),
	}
	if err := s.Cart.Bind(ctx, s.Identity); err != nil {
		return nil, errors.Wrap(err, "bind cart")
	}
	s.touch(r.now())

	r.mu.Lock()
	r.shoppers[s.ID] = s
	r.mu.Unlock()

	r.lg.Debug("Session created", zap.String("session_id", s.ID))
	return s, nil
}

// Get returns a live session and marks it active.
func (r *Registry) Get(id string) (*Shopper, error) {
	r.mu.Lock()
	s, ok := r.shoppers[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrUnknownSession
	}
	s.touch(r.now())
	return s, nil
}

// End closes a session, flushing its cart.
func (r *Registry) End(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.shoppers[id]
	delete(r.shoppers, id)
	r.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	return s.Cart.Close(ctx)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shoppers)
}

// Sweep ends sessions idle for longer than the idle TTL and returns how many
// were evicted.
func (r *Registry) Sweep(ctx context.Context) int {
	now := r.now()

	r.mu.Lock()
	var idle []*Shopper
	for id, s := range r.shoppers {
		if s.idleSince(now) > r.idleTTL {
			idle = append(idle, s)
			delete(r.shoppers, id)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		if err := s.Cart.Close(ctx); err != nil {
			r.lg.Warn("Flush cart of evicted session", zap.String("session_id", s.ID), zap.Error(err))
		}
	}
	return len(idle)
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(ctx); n > 0 {
				r.lg.Info("Evicted idle sessions", zap.Int("count", n), zap.Int("live", r.Len()))
			}
		}
	}
}

// Close ends every session.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	all := r.shoppers
	r.shoppers = make(map[string]*Shopper)
	r.mu.Unlock()

	var (
		first  error
		failed int
	)
	for _, s := range all {
		if err := s.Cart.Close(ctx); err != nil {
			r.lg.Warn("Flush cart on close", zap.String("session_id", s.ID), zap.Error(err))
			if first == nil {
				first = err
			}
			failed++
		}
	}
	if first != nil {
		return errors.Wrapf(first, "close %d of %d sessions", failed, len(all))
	}
	return nil
}
