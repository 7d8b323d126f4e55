package cart

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/docstore"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/identity"
)

// DefaultHoldTTL is how far ahead ReservedUntil is set on add.
const DefaultHoldTTL = 15 * time.Minute

// Options configures a Manager.
type Options struct {
	FlushDelay time.Duration
	HoldTTL    time.Duration
	Now        func() time.Time
}

// Manager owns the cart of one shopper session. Guests are held in memory
// only; an authenticated shopper's cart is mirrored to carts/{uid}.
type Manager struct {
	store    docstore.Store
	reserver StockReserver
	flusher  *Flusher
	lg       *zap.Logger
	holdTTL  time.Duration
	now      func() time.Time

	// ops serializes line mutations against Hold.
	ops sync.Mutex

	mu     sync.Mutex
	userID string
	items  []Item

	unbind func()
}

// NewManager returns a guest Manager with an empty cart.
func NewManager(store docstore.Store, reserver StockReserver, lg *zap.Logger, opts Options) *Manager {
	if opts.HoldTTL <= 0 {
		opts.HoldTTL = DefaultHoldTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{
		store:    store,
		reserver: reserver,
		lg:       lg,
		holdTTL:  opts.HoldTTL,
		now:      opts.Now,
	}
	m.flusher = NewFlusher(opts.FlushDelay, m.flush, lg)
	return m
}

// AddItem reserves qty units of p and then adds them to the cart. A new line
// captures p's effective price; an existing line only grows. When the
// reservation fails the cart is left as it was.
func (m *Manager) AddItem(ctx context.Context, p product.Product, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	if !p.InStock() {
		return ErrOutOfStock
	}

	m.ops.Lock()
	defer m.ops.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.reserver.ReserveStock(ctx, p.ID, qty); err != nil {
		return err
	}

	hold := m.now().Add(m.holdTTL)
	if i := m.indexOf(p.ID); i >= 0 {
		m.items[i].Quantity += qty
		m.items[i].ReservedUntil = &hold
	} else {
		m.items = append(m.items, Item{
			ProductID:     p.ID,
			Name:          p.Name,
			UnitPrice:     p.EffectivePrice(),
			Quantity:      qty,
			ReservedUntil: &hold,
		})
	}
	m.flusher.ScheduleFlush()
	return nil
}

// RemoveItem drops the line for productID, if any. Stock is not restored.
func (m *Manager) RemoveItem(productID string) {
	m.ops.Lock()
	defer m.ops.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	if i := m.indexOf(productID); i >= 0 {
		m.items = slices.Delete(m.items, i, i+1)
		m.flusher.ScheduleFlush()
	}
}

// IncreaseQty adds one unit to an existing line without checking stock.
func (m *Manager) IncreaseQty(productID string) error {
	m.ops.Lock()
	defer m.ops.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(productID)
	if i < 0 {
		return ErrItemNotFound
	}
	m.items[i].Quantity++
	m.flusher.ScheduleFlush()
	return nil
}

// DecreaseQty removes one unit; the line is dropped when it reaches zero.
func (m *Manager) DecreaseQty(productID string) error {
	m.ops.Lock()
	defer m.ops.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(productID)
	if i < 0 {
		return ErrItemNotFound
	}
	if m.items[i].Quantity <= 1 {
		m.items = slices.Delete(m.items, i, i+1)
	} else {
		m.items[i].Quantity--
	}
	m.flusher.ScheduleFlush()
	return nil
}

// Clear empties the cart and persists it right away. The in-memory cart is
// empty even when the write fails; the write is then retried in the
// background.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.items = nil
	m.mu.Unlock()

	if err := m.flusher.FlushNow(ctx); err != nil {
		return errors.Wrap(err, "persist cleared cart")
	}
	return nil
}

// Hold returns the current lines and blocks AddItem, RemoveItem and the
// quantity changes until release is called. Clear stays available so the
// held lines can be dropped once they are written elsewhere.
func (m *Manager) Hold() (items []Item, release func()) {
	m.ops.Lock()
	return m.Items(), sync.OnceFunc(m.ops.Unlock)
}

// Items returns a copy of the cart lines in insertion order.
func (m *Manager) Items() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneItems(m.items)
}

// Subtotal is computed from the current lines on every call.
func (m *Manager) Subtotal() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Subtotal(m.items)
}

// State reports whether the cart has any lines.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return StateEmpty
	}
	return StatePopulated
}

// UserID returns the owner of the cart, or "" for a guest.
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// Bind follows the identity of port: the cart is switched to the current
// user now and on every later auth state change.
func (m *Manager) Bind(ctx context.Context, port identity.Port) error {
	cancel := port.OnAuthStateChange(func(ctx context.Context, u identity.User, ok bool) {
		if err := m.SwitchUser(ctx, u, ok); err != nil {
			m.lg.Warn("Switch cart user", zap.String("user_id", u.ID), zap.Error(err))
		}
	})

	m.mu.Lock()
	prev := m.unbind
	m.unbind = cancel
	m.mu.Unlock()
	if prev != nil {
		prev()
	}

	u, ok := port.CurrentUser()
	return m.SwitchUser(ctx, u, ok)
}

// SwitchUser flushes pending writes of the current owner and replaces the
// in-memory cart: with the stored cart of u when ok, or with an empty guest
// cart otherwise. Items never carry over between identities.
func (m *Manager) SwitchUser(ctx context.Context, u identity.User, ok bool) error {
	next := ""
	if ok {
		next = u.ID
	}
	if m.UserID() == next {
		return nil
	}

	if m.flusher.Pending() {
		if err := m.flusher.FlushNow(ctx); err != nil {
			m.lg.Warn("Flush cart before user switch", zap.String("user_id", m.UserID()), zap.Error(err))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.userID, m.items = "", nil
	if next == "" {
		return nil
	}

	items, err := m.load(ctx, next)
	if err != nil {
		// Stay a guest rather than overwrite the stored cart later.
		return errors.Wrapf(err, "load cart of %q", next)
	}
	m.userID, m.items = next, items
	return nil
}

// Close stops following identity changes and flushes pending writes.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	unbind := m.unbind
	m.unbind = nil
	m.mu.Unlock()
	if unbind != nil {
		unbind()
	}

	var err error
	if m.flusher.Pending() {
		err = m.flusher.FlushNow(ctx)
	}
	m.flusher.Stop()
	return err
}

// Flusher exposes the write scheduler.
func (m *Manager) Flusher() *Flusher {
	return m.flusher
}

func (m *Manager) indexOf(productID string) int {
	return slices.IndexFunc(m.items, func(it Item) bool { return it.ProductID == productID })
}

func (m *Manager) load(ctx context.Context, userID string) ([]Item, error) {
	doc, err := m.store.Get(ctx, Collection, userID)
	if errors.Is(err, docstore.ErrNotFound) {
		if err := m.persist(ctx, userID, nil); err != nil {
			m.lg.Warn("Create empty cart", zap.String("user_id", userID), zap.Error(err))
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return itemsFromFields(doc.Data), nil
}

func (m *Manager) flush(ctx context.Context) error {
	m.mu.Lock()
	userID, items := m.userID, cloneItems(m.items)
	m.mu.Unlock()

	return m.persist(ctx, userID, items)
}

func (m *Manager) persist(ctx context.Context, userID string, items []Item) error {
	if userID == "" {
		return nil
	}
	err := m.store.Set(ctx, Collection, userID, docstore.Fields{
		"items":     itemsToFields(items),
		"updatedAt": m.now().UTC(),
	}, docstore.Merge())
	if err != nil {
		return errors.Wrapf(err, "save cart of %q", userID)
	}
	return nil
}
