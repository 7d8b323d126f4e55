// Package postgres implements docstore.Store on a single JSONB table.
//
// Atomic operations run in READ COMMITTED transactions that lock every
// document they read with SELECT ... FOR UPDATE, which serializes concurrent
// read-modify-write sequences on the same document. Changes are published
// with LISTEN/NOTIFY for subscriptions.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/docstore"
)

const (
	getDocumentSQL          = `SELECT data FROM documents WHERE collection = $1 AND id = $2`
	getDocumentForUpdateSQL = getDocumentSQL + ` FOR UPDATE`

	replaceDocumentSQL = `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`

	mergeDocumentSQL = `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = now()`

	deleteDocumentSQL = `DELETE FROM documents WHERE collection = $1 AND id = $2`

	notifyChannel = "document_changes"
)

var _ docstore.Store = (*Store)(nil)

// Options configures the adapter.
type Options struct {
	// MaxRetries bounds RunAtomic retries on serialization failures,
	// deadlocks and connection errors.
	MaxRetries uint64
}

// Store is a docstore.Store backed by PostgreSQL.
type Store struct {
	pool       *pgxpool.Pool
	maxRetries uint64
	lg         *zap.Logger
}

// New returns a Store using pool. The schema must already be applied.
func New(pool *pgxpool.Pool, lg *zap.Logger, opts Options) *Store {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 5
	}
	return &Store{pool: pool, maxRetries: opts.MaxRetries, lg: lg}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getDocument(ctx context.Context, q querier, sql, collection, id string) (*docstore.Document, error) {
	var raw []byte
	if err := q.QueryRow(ctx, sql, collection, id).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, docstore.ErrNotFound
		}
		return nil, fmt.Errorf("getting %s/%s: %w", collection, id, err)
	}
	data, err := decodeFields(raw)
	if err != nil {
		return nil, err
	}
	return &docstore.Document{ID: id, Data: data}, nil
}

func setDocument(ctx context.Context, q querier, collection, id string, data docstore.Fields, opts []docstore.SetOption) error {
	if id == "" {
		return errors.New("postgres: empty document id")
	}
	raw, err := encodeFields(data)
	if err != nil {
		return err
	}
	sql := replaceDocumentSQL
	if docstore.ApplySetOptions(opts).Merge {
		sql = mergeDocumentSQL
	}
	if _, err := q.Exec(ctx, sql, collection, id, raw); err != nil {
		return fmt.Errorf("setting %s/%s: %w", collection, id, err)
	}
	return nil
}

func deleteDocument(ctx context.Context, q querier, collection, id string) error {
	if _, err := q.Exec(ctx, deleteDocumentSQL, collection, id); err != nil {
		return fmt.Errorf("deleting %s/%s: %w", collection, id, err)
	}
	return nil
}

// Get reads one document.
func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	return getDocument(ctx, s.pool, getDocumentSQL, collection, id)
}

// Set writes one document.
func (s *Store) Set(ctx context.Context, collection, id string, data docstore.Fields, opts ...docstore.SetOption) error {
	return setDocument(ctx, s.pool, collection, id, data, opts)
}

// Delete removes one document.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return deleteDocument(ctx, s.pool, collection, id)
}

// Query translates q to SQL over the JSONB data column.
func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	sql, args, err := buildQuery(collection, q)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}
	return pgx.CollectRows(rows, scanDocument)
}

func scanDocument(row pgx.CollectableRow) (docstore.Document, error) {
	var (
		id  string
		raw []byte
	)
	if err := row.Scan(&id, &raw); err != nil {
		return docstore.Document{}, err
	}
	data, err := decodeFields(raw)
	if err != nil {
		return docstore.Document{}, err
	}
	return docstore.Document{ID: id, Data: data}, nil
}

func buildQuery(collection string, q docstore.Query) (string, []any, error) {
	var (
		sb   strings.Builder
		args = []any{collection}
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	sb.WriteString(`SELECT id, data FROM documents WHERE collection = $1`)
	for _, f := range q.Filters {
		cond, err := filterSQL(f, arg)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(" AND ")
		sb.WriteString(cond)
	}

	if q.OrderBy != "" {
		sb.WriteString(" ORDER BY data->(" + arg(q.OrderBy) + "::text)")
		if q.Desc {
			sb.WriteString(" DESC")
		}
		sb.WriteString(", id")
	} else {
		sb.WriteString(" ORDER BY id")
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	return sb.String(), args, nil
}

func filterSQL(f docstore.Filter, arg func(any) string) (string, error) {
	op, ok := map[docstore.Op]string{
		docstore.OpEq:  "=",
		docstore.OpNeq: "<>",
		docstore.OpLt:  "<",
		docstore.OpLte: "<=",
		docstore.OpGt:  ">",
		docstore.OpGte: ">=",
	}[f.Op]
	if !ok {
		return "", errors.Errorf("postgres: unsupported operator %q", f.Op)
	}

	switch v := f.Value.(type) {
	case string:
		return fmt.Sprintf("data->>(%s::text) %s %s", arg(f.Field), op, arg(v)), nil
	case time.Time:
		return fmt.Sprintf("data->>(%s::text) %s %s", arg(f.Field), op, arg(formatTime(v))), nil
	case bool:
		if f.Op != docstore.OpEq && f.Op != docstore.OpNeq {
			return "", errors.Errorf("postgres: operator %q on bool field %q", f.Op, f.Field)
		}
		return fmt.Sprintf("data->(%s::text) %s to_jsonb(%s::boolean)", arg(f.Field), op, arg(v)), nil
	case decimal.Decimal, int, int32, int64, float64:
		return fmt.Sprintf("(data->>(%s::text))::numeric %s %s", arg(f.Field), op, arg(v)), nil
	default:
		return "", errors.Errorf("postgres: unsupported filter value %T for field %q", f.Value, f.Field)
	}
}

// RunAtomic runs fn in a transaction, retrying with exponential backoff when
// the failure is transient.
func (s *Store) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
			return fn(ctx, &transaction{ctx: ctx, tx: tx})
		})
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		s.lg.Debug("Retrying atomic operation", zap.Int("attempt", attempt), zap.Error(err))
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries),
		ctx,
	)
	return backoff.Retry(op, policy)
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}

// Ping checks pool connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type transaction struct {
	ctx context.Context
	tx  pgx.Tx
}

func (t *transaction) Get(collection, id string) (*docstore.Document, error) {
	return getDocument(t.ctx, t.tx, getDocumentForUpdateSQL, collection, id)
}

func (t *transaction) Set(collection, id string, data docstore.Fields, opts ...docstore.SetOption) error {
	return setDocument(t.ctx, t.tx, collection, id, data, opts)
}

func (t *transaction) Delete(collection, id string) error {
	return deleteDocument(t.ctx, t.tx, collection, id)
}
