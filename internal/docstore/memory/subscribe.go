package memory

import (
	"context"

	"github.com/xenking/kart-checkout/internal/docstore"
)

type subscription struct {
	collection string
	query      docstore.Query
	onChange   func([]docstore.Document)
	dirty      chan struct{}
	cancel     context.CancelFunc
}

// Subscribe delivers the current result of q immediately and again after
// every write to collection. Bursts of writes may be coalesced into one
// delivery; every delivery is a full snapshot.
func (s *Store) Subscribe(
	ctx context.Context,
	collection string,
	q docstore.Query,
	onChange func([]docstore.Document),
) (docstore.Unsubscribe, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		collection: collection,
		query:      q,
		onChange:   onChange,
		dirty:      make(chan struct{}, 1),
		cancel:     cancel,
	}

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = sub
	s.subMu.Unlock()

	sub.dirty <- struct{}{}
	go s.deliver(ctx, sub)

	return func() {
		cancel()
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}, nil
}

func (s *Store) deliver(ctx context.Context, sub *subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.dirty:
			docs, err := s.Query(ctx, sub.collection, sub.query)
			if err != nil || ctx.Err() != nil {
				return
			}
			sub.onChange(docs)
		}
	}
}

func (s *Store) notify(collection string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, sub := range s.subs {
		if sub.collection != collection {
			continue
		}
		select {
		case sub.dirty <- struct{}{}:
		default:
		}
	}
}
