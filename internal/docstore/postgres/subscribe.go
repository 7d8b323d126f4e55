package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/docstore"
)

// Subscribe holds a dedicated connection listening on the change channel and
// re-runs q whenever a document of collection changes.
func (s *Store) Subscribe(
	ctx context.Context,
	collection string,
	q docstore.Query,
	onChange func([]docstore.Document),
) (docstore.Unsubscribe, error) {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire listener connection")
	}
	// The listening connection never goes back to the pool.
	conn := pc.Hijack()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		_ = conn.Close(context.Background())
		return nil, errors.Wrap(err, "listen")
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer func() { _ = conn.Close(context.Background()) }()

		deliver := func() {
			docs, err := s.Query(ctx, collection, q)
			if err != nil {
				if ctx.Err() == nil {
					s.lg.Warn("Query for subscription", zap.String("collection", collection), zap.Error(err))
				}
				return
			}
			onChange(docs)
		}

		deliver()
		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.lg.Warn("Subscription stopped", zap.String("collection", collection), zap.Error(err))
				}
				return
			}
			if n.Payload == collection {
				deliver()
			}
		}
	}()

	return docstore.Unsubscribe(cancel), nil
}
