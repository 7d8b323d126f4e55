// Package docstore defines the persistence port used by the checkout workflow:
// a collection/document store with an all-or-nothing atomic primitive and
// live query subscriptions.
//
// Three adapters implement Store: memory (tests and local development),
// firestore (hosted) and postgres (self-hosted JSONB documents).
package docstore

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is a single stored record.
type Document struct {
	ID   string
	Data Fields
}

// SetOptions controls how Set applies data to an existing document.
type SetOptions struct {
	// Merge overwrites only the top-level fields present in data and keeps
	// the rest. Without Merge the document is replaced.
	Merge bool
}

// SetOption configures a Set call.
type SetOption func(*SetOptions)

// Merge makes Set update only the given top-level fields.
func Merge() SetOption {
	return func(o *SetOptions) { o.Merge = true }
}

// ApplySetOptions folds opts into SetOptions.
func ApplySetOptions(opts []SetOption) SetOptions {
	var o SetOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Tx is the handle passed to a RunAtomic callback. Reads and writes made
// through it are applied all-or-nothing and are serialized against other
// atomic operations touching the same documents.
type Tx interface {
	Get(collection, id string) (*Document, error)
	Set(collection, id string, data Fields, opts ...SetOption) error
	Delete(collection, id string) error
}

// Unsubscribe stops a live subscription.
type Unsubscribe func()

// Store is the persistence port.
//
// Callbacks given to RunAtomic must only touch the store through the Tx they
// receive and may be invoked more than once when the adapter retries.
type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Set(ctx context.Context, collection, id string, data Fields, opts ...SetOption) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	RunAtomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Subscribe(ctx context.Context, collection string, q Query, onChange func([]Document)) (Unsubscribe, error)
	Ping(ctx context.Context) error
	Close() error
}
