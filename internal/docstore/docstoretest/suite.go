// Package docstoretest holds behaviour checks shared by every docstore.Store
// adapter.
package docstoretest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/docstore"
)

// Run exercises s. Collections are namespaced per call so adapters backed by
// shared infrastructure can be reused across tests.
func Run(t *testing.T, s docstore.Store) {
	t.Helper()
	ns := "t" + uuid.NewString()[:8] + "_"

	t.Run("MergeSet", func(t *testing.T) { testMergeSet(t, s, ns+"products") })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, s, ns+"products") })
	t.Run("Query", func(t *testing.T) { testQuery(t, s, ns+"orders") })
	t.Run("AtomicRollback", func(t *testing.T) { testAtomicRollback(t, s, ns+"stock") })
	t.Run("AtomicConditionalDecrement", func(t *testing.T) { testConditionalDecrement(t, s, ns+"stock_race") })
	t.Run("Subscribe", func(t *testing.T) { testSubscribe(t, s, ns+"watched") })
}

func testMergeSet(t *testing.T, s docstore.Store, col string) {
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, col, "p1", docstore.Fields{"name": "Widget", "stock": int64(3), "price": "9.99"}))
	require.NoError(t, s.Set(ctx, col, "p1", docstore.Fields{"stock": int64(1)}, docstore.Merge()))

	doc, err := s.Get(ctx, col, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", doc.ID)
	assert.Equal(t, "Widget", doc.Data.String("name"))
	assert.Equal(t, int64(1), doc.Data.Int("stock"))
	assert.Equal(t, "9.99", doc.Data.Decimal("price").StringFixed(2))
}

func testNotFound(t *testing.T, s docstore.Store, col string) {
	ctx := context.Background()
	_, err := s.Get(ctx, col, "missing")
	require.ErrorIs(t, err, docstore.ErrNotFound)

	require.NoError(t, s.Set(ctx, col, "gone", docstore.Fields{"x": int64(1)}))
	require.NoError(t, s.Delete(ctx, col, "gone"))
	_, err = s.Get(ctx, col, "gone")
	require.ErrorIs(t, err, docstore.ErrNotFound)
}

func testQuery(t *testing.T, s docstore.Store, col string) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Set(ctx, col, id, docstore.Fields{
			"userId":    "u1",
			"createdAt": base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.Set(ctx, col, "other", docstore.Fields{"userId": "u2", "createdAt": base}))

	docs, err := s.Query(ctx, col, docstore.Query{
		Filters: []docstore.Filter{docstore.Where("userId", docstore.OpEq, "u1")},
		OrderBy: "createdAt",
		Desc:    true,
	})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{docs[0].ID, docs[1].ID, docs[2].ID})
	assert.True(t, docs[0].Data.Time("createdAt").Equal(base.Add(2*time.Minute)))
}

func testAtomicRollback(t *testing.T, s docstore.Store, col string) {
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, col, "p1", docstore.Fields{"stock": int64(4)}))

	errAbort := errors.New("abort")
	err := s.RunAtomic(ctx, func(_ context.Context, tx docstore.Tx) error {
		doc, err := tx.Get(col, "p1")
		if err != nil {
			return err
		}
		if err := tx.Set(col, "p1", docstore.Fields{"stock": doc.Data.Int("stock") - 4}, docstore.Merge()); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	doc, err := s.Get(ctx, col, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), doc.Data.Int("stock"))
}

func testConditionalDecrement(t *testing.T, s docstore.Store, col string) {
	ctx := context.Background()
	const (
		initial = 5
		workers = 20
	)
	require.NoError(t, s.Set(ctx, col, "p1", docstore.Fields{"stock": int64(initial)}))

	errShort := errors.New("short")
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RunAtomic(ctx, func(_ context.Context, tx docstore.Tx) error {
				doc, err := tx.Get(col, "p1")
				if err != nil {
					return err
				}
				stock := doc.Data.Int("stock")
				if stock < 1 {
					return errShort
				}
				return tx.Set(col, "p1", docstore.Fields{"stock": stock - 1}, docstore.Merge())
			})
			if err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	doc, err := s.Get(ctx, col, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(initial), succeeded.Load())
	assert.Equal(t, int64(0), doc.Data.Int("stock"))
}

func testSubscribe(t *testing.T, s docstore.Store, col string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu  sync.Mutex
		ids []string
	)
	unsubscribe, err := s.Subscribe(ctx, col, docstore.Query{
		Filters: []docstore.Filter{docstore.Where("status", docstore.OpEq, "pending")},
	}, func(docs []docstore.Document) {
		mu.Lock()
		defer mu.Unlock()
		ids = ids[:0]
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
	})
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, s.Set(ctx, col, "o1", docstore.Fields{"status": "pending"}))
	require.NoError(t, s.Set(ctx, col, "o2", docstore.Fields{"status": "shipped"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ids) == 1 && ids[0] == "o1"
	}, 10*time.Second, 20*time.Millisecond)
}
