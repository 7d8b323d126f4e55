// Package firestore implements docstore.Store on Cloud Firestore.
package firestore

import (
	"context"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/xenking/kart-checkout/internal/docstore"
)

var _ docstore.Store = (*Store)(nil)

// Options configures the adapter.
type Options struct {
	// MaxAttempts bounds RunTransaction retries on contention. Zero keeps the
	// client default.
	MaxAttempts int
}

// Store wraps a Firestore client.
type Store struct {
	client      *firestore.Client
	maxAttempts int
	lg          *zap.Logger
}

// NewClient creates a Firestore client. An empty credentialsFile falls back
// to Application Default Credentials (or the emulator when
// FIRESTORE_EMULATOR_HOST is set).
func NewClient(ctx context.Context, projectID, credentialsFile string) (*firestore.Client, error) {
	var opts []option.ClientOption
	if strings.TrimSpace(credentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create firestore client")
	}
	return client, nil
}

// New returns a Store using client.
func New(client *firestore.Client, lg *zap.Logger, opts Options) *Store {
	return &Store{client: client, maxAttempts: opts.MaxAttempts, lg: lg}
}

func (s *Store) doc(collection, id string) *firestore.DocumentRef {
	return s.client.Collection(collection).Doc(id)
}

// Get reads one document.
func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	snap, err := s.doc(collection, id).Get(ctx)
	return fromSnapshot(snap, err)
}

// Set writes one document.
func (s *Store) Set(ctx context.Context, collection, id string, data docstore.Fields, opts ...docstore.SetOption) error {
	var setOpts []firestore.SetOption
	if docstore.ApplySetOptions(opts).Merge {
		setOpts = append(setOpts, firestore.MergeAll)
	}
	if _, err := s.doc(collection, id).Set(ctx, toFirestore(data), setOpts...); err != nil {
		return errors.Wrapf(err, "set %s/%s", collection, id)
	}
	return nil
}

// Delete removes one document.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.doc(collection, id).Delete(ctx); err != nil {
		return errors.Wrapf(err, "delete %s/%s", collection, id)
	}
	return nil
}

// Query runs q against the collection.
func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	snaps, err := s.query(collection, q).Documents(ctx).GetAll()
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", collection)
	}
	return fromSnapshots(snaps)
}

func (s *Store) query(collection string, q docstore.Query) firestore.Query {
	fq := s.client.Collection(collection).Query
	for _, f := range q.Filters {
		fq = fq.Where(f.Field, string(f.Op), toFirestoreValue(f.Value))
	}
	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Desc {
			dir = firestore.Desc
		}
		fq = fq.OrderBy(q.OrderBy, dir)
	}
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	return fq
}

// RunAtomic runs fn in a Firestore transaction. Firestore retries the
// callback on contention, up to MaxAttempts.
func (s *Store) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	var opts []firestore.TransactionOption
	if s.maxAttempts > 0 {
		opts = append(opts, firestore.MaxAttempts(s.maxAttempts))
	}
	return s.client.RunTransaction(ctx, func(ctx context.Context, t *firestore.Transaction) error {
		return fn(ctx, &transaction{store: s, tx: t})
	}, opts...)
}

// Subscribe streams query snapshots until ctx is done or the returned
// function is called.
func (s *Store) Subscribe(
	ctx context.Context,
	collection string,
	q docstore.Query,
	onChange func([]docstore.Document),
) (docstore.Unsubscribe, error) {
	ctx, cancel := context.WithCancel(ctx)
	it := s.query(collection, q).Snapshots(ctx)

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, iterator.Done) {
					s.lg.Warn("Firestore subscription stopped",
						zap.String("collection", collection),
						zap.Error(err),
					)
				}
				return
			}
			snaps, err := snap.Documents.GetAll()
			if err != nil {
				s.lg.Warn("Read subscription snapshot", zap.String("collection", collection), zap.Error(err))
				continue
			}
			docs, err := fromSnapshots(snaps)
			if err != nil {
				s.lg.Warn("Decode subscription snapshot", zap.String("collection", collection), zap.Error(err))
				continue
			}
			onChange(docs)
		}
	}()

	return docstore.Unsubscribe(cancel), nil
}

// Ping lists at most one collection to check connectivity.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.Collections(ctx).Next()
	if err != nil && !errors.Is(err, iterator.Done) {
		return errors.Wrap(err, "firestore ping")
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

type transaction struct {
	store *Store
	tx    *firestore.Transaction
}

func (t *transaction) Get(collection, id string) (*docstore.Document, error) {
	snap, err := t.tx.Get(t.store.doc(collection, id))
	return fromSnapshot(snap, err)
}

func (t *transaction) Set(collection, id string, data docstore.Fields, opts ...docstore.SetOption) error {
	var setOpts []firestore.SetOption
	if docstore.ApplySetOptions(opts).Merge {
		setOpts = append(setOpts, firestore.MergeAll)
	}
	return t.tx.Set(t.store.doc(collection, id), toFirestore(data), setOpts...)
}

func (t *transaction) Delete(collection, id string) error {
	return t.tx.Delete(t.store.doc(collection, id))
}

func fromSnapshot(snap *firestore.DocumentSnapshot, err error) (*docstore.Document, error) {
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, docstore.ErrNotFound
		}
		return nil, err
	}
	if snap == nil || !snap.Exists() {
		return nil, docstore.ErrNotFound
	}
	return &docstore.Document{ID: snap.Ref.ID, Data: docstore.Fields(snap.Data())}, nil
}

func fromSnapshots(snaps []*firestore.DocumentSnapshot) ([]docstore.Document, error) {
	docs := make([]docstore.Document, 0, len(snaps))
	for _, snap := range snaps {
		doc, err := fromSnapshot(snap, nil)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

// toFirestore converts Fields into the plain map types the client accepts;
// MergeAll only works with map[string]interface{} data.
func toFirestore(data docstore.Fields) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = toFirestoreValue(v)
	}
	return out
}

func toFirestoreValue(v any) any {
	switch vv := v.(type) {
	case docstore.Fields:
		return toFirestore(vv)
	case map[string]any:
		return toFirestore(vv)
	case []any:
		out := make([]any, len(vv))
		for i := range vv {
			out[i] = toFirestoreValue(vv[i])
		}
		return out
	case decimal.Decimal:
		return vv.String()
	default:
		return v
	}
}
