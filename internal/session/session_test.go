package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/kart-checkout/internal/docstore/memory"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/identity"
)

type noopReserver struct{}

func (noopReserver) ReserveStock(context.Context, string, int) error { return nil }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newRegistry(t *testing.T, clk *clock) (*Registry, *memory.Store) {
	t.Helper()
	store := memory.New()
	lg := zaptest.NewLogger(t)
	r := NewRegistry(func() *cart.Manager {
		return cart.NewManager(store, noopReserver{}, lg, cart.Options{FlushDelay: time.Hour})
	}, lg, Options{IdleTTL: time.Minute, Now: clk.Now})
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r, store
}

func TestRegistry_CreateGetEnd(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t, &clock{now: time.Now()})

	s, err := r.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	got, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, r.End(ctx, s.ID))
	_, err = r.Get(s.ID)
	require.ErrorIs(t, err, ErrUnknownSession)
	require.ErrorIs(t, r.End(ctx, s.ID), ErrUnknownSession)
}

func TestRegistry_CartFollowsIdentity(t *testing.T) {
	ctx := context.Background()
	r, store := newRegistry(t, &clock{now: time.Now()})

	s, err := r.Create(ctx)
	require.NoError(t, err)

	s.Identity.SignIn(ctx, identity.User{ID: "u1"})
	require.NoError(t, s.Cart.AddItem(ctx, product.Product{ID: "p1", Price: decimal.NewFromInt(3), Stock: 1}, 1))
	assert.Equal(t, "u1", s.Cart.UserID())

	require.NoError(t, r.End(ctx, s.ID))
	doc, err := store.Get(ctx, cart.Collection, "u1")
	require.NoError(t, err)
	assert.Len(t, doc.Data.Maps("items"), 1, "cart flushed on session end")
}

func TestRegistry_SweepEvictsIdle(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Now()}
	r, _ := newRegistry(t, clk)

	idle, err := r.Create(ctx)
	require.NoError(t, err)
	clk.Advance(50 * time.Second)
	active, err := r.Create(ctx)
	require.NoError(t, err)

	clk.Advance(20 * time.Second)
	_, err = r.Get(active.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, r.Sweep(ctx))
	_, err = r.Get(idle.ID)
	require.ErrorIs(t, err, ErrUnknownSession)
	_, err = r.Get(active.ID)
	require.NoError(t, err)
}

func TestShopper_DoCoalescesDuplicates(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t, &clock{now: time.Now()})
	s, err := r.Create(ctx)
	require.NoError(t, err)

	var (
		calls   atomic.Int32
		release = make(chan struct{})
		started = make(chan struct{})
		wg      sync.WaitGroup
		shared  atomic.Int32
	)
	fn := func() (any, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return "order-1", nil
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		v, sh, err := s.Do("checkout", fn)
		assert.NoError(t, err)
		assert.Equal(t, "order-1", v)
		if sh {
			shared.Add(1)
		}
	}()
	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		v, sh, err := s.Do("checkout", fn)
		assert.NoError(t, err)
		assert.Equal(t, "order-1", v)
		if sh {
			shared.Add(1)
		}
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(2), shared.Load())
}
