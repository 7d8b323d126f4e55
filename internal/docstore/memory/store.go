// Package memory is an in-process docstore.Store. Atomic operations hold a
// store-wide lock for the duration of the callback, so concurrent
// read-modify-write sequences are fully serialized.
package memory

import (
	"context"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/docstore"
)

var _ docstore.Store = (*Store)(nil)

// Store keeps documents in memory.
type Store struct {
	mu          sync.Mutex
	collections map[string]map[string]docstore.Fields

	subMu  sync.Mutex
	subs   map[int]*subscription
	nextID int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		collections: make(map[string]map[string]docstore.Fields),
		subs:        make(map[int]*subscription),
	}
}

// Get returns a copy of the document.
func (s *Store) Get(_ context.Context, collection, id string) (*docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(collection, id)
}

func (s *Store) get(collection, id string) (*docstore.Document, error) {
	data, ok := s.collections[collection][id]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return &docstore.Document{ID: id, Data: data.Clone()}, nil
}

// Set writes the document.
func (s *Store) Set(_ context.Context, collection, id string, data docstore.Fields, opts ...docstore.SetOption) error {
	if id == "" {
		return errors.New("memory: empty document id")
	}
	s.mu.Lock()
	s.put(collection, id, data, docstore.ApplySetOptions(opts))
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *Store) put(collection, id string, data docstore.Fields, o docstore.SetOptions) {
	col, ok := s.collections[collection]
	if !ok {
		col = make(map[string]docstore.Fields)
		s.collections[collection] = col
	}

	existing, exists := col[id]
	if !o.Merge || !exists {
		col[id] = data.Clone()
		return
	}
	merged := existing.Clone()
	for k, v := range data.Clone() {
		merged[k] = v
	}
	col[id] = merged
}

// Delete removes the document. Deleting a missing document is not an error.
func (s *Store) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	delete(s.collections[collection], id)
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

// Query returns copies of the matching documents.
func (s *Store) Query(_ context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query(collection, q), nil
}

func (s *Store) query(collection string, q docstore.Query) []docstore.Document {
	col := s.collections[collection]
	docs := make([]docstore.Document, 0, len(col))
	for id, data := range col {
		docs = append(docs, docstore.Document{ID: id, Data: data.Clone()})
	}
	return q.Apply(docs)
}

// RunAtomic runs fn under the store lock. Writes are staged and applied only
// when fn returns nil.
func (s *Store) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	changed, err := s.runLocked(ctx, fn)
	if err != nil {
		return err
	}
	for col := range changed {
		s.notify(col)
	}
	return nil
}

func (s *Store) runLocked(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{store: s}
	if err := fn(ctx, tx); err != nil {
		return nil, err
	}
	return tx.commit(), nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close stops all subscriptions.
func (s *Store) Close() error {
	s.subMu.Lock()
	subs := s.subs
	s.subs = make(map[int]*subscription)
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.cancel()
	}
	return nil
}

type stagedWrite struct {
	collection string
	id         string
	data       docstore.Fields
	opts       docstore.SetOptions
	delete     bool
}

// transaction stages writes until commit. Called with Store.mu held.
type transaction struct {
	store  *Store
	writes []stagedWrite
}

func (t *transaction) Get(collection, id string) (*docstore.Document, error) {
	doc, err := t.store.get(collection, id)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return nil, err
	}

	// Replay staged writes so reads observe earlier writes of the same tx.
	for _, w := range t.writes {
		if w.collection != collection || w.id != id {
			continue
		}
		switch {
		case w.delete:
			doc = nil
		case w.opts.Merge && doc != nil:
			for k, v := range w.data.Clone() {
				doc.Data[k] = v
			}
		default:
			doc = &docstore.Document{ID: id, Data: w.data.Clone()}
		}
	}

	if doc == nil {
		return nil, docstore.ErrNotFound
	}
	return doc, nil
}

func (t *transaction) Set(collection, id string, data docstore.Fields, opts ...docstore.SetOption) error {
	if id == "" {
		return errors.New("memory: empty document id")
	}
	t.writes = append(t.writes, stagedWrite{
		collection: collection,
		id:         id,
		data:       data.Clone(),
		opts:       docstore.ApplySetOptions(opts),
	})
	return nil
}

func (t *transaction) Delete(collection, id string) error {
	t.writes = append(t.writes, stagedWrite{collection: collection, id: id, delete: true})
	return nil
}

func (t *transaction) commit() map[string]struct{} {
	changed := make(map[string]struct{}, len(t.writes))
	for _, w := range t.writes {
		if w.delete {
			delete(t.store.collections[w.collection], w.id)
		} else {
			t.store.put(w.collection, w.id, w.data, w.opts)
		}
		changed[w.collection] = struct{}{}
	}
	return changed
}
