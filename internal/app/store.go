package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/docstore"
	"github.com/xenking/kart-checkout/internal/docstore/firestore"
	"github.com/xenking/kart-checkout/internal/docstore/memory"
	"github.com/xenking/kart-checkout/internal/docstore/postgres"
	"github.com/xenking/kart-checkout/internal/identity"
)

// OpenStore connects the configured document store backend.
func OpenStore(ctx context.Context, lg *zap.Logger, cfg *Config) (docstore.Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		lg.Warn("Using in-memory document store, data is lost on exit")
		return memory.New(), nil
	case BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		return postgres.New(pool, lg.Named("postgres"), postgres.Options{}), nil
	case BackendFirestore:
		client, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID, cfg.Firestore.CredentialsFile)
		if err != nil {
			return nil, errors.Wrap(err, "create firestore client")
		}
		return firestore.New(client, lg.Named("firestore"), firestore.Options{
			MaxAttempts: cfg.Firestore.MaxAttempts,
		}), nil
	default:
		return nil, errors.Errorf("unknown backend %q", cfg.Backend)
	}
}

// NewVerifier returns the ID token verifier of the configured auth mode.
func NewVerifier(ctx context.Context, cfg *Config) (identity.Verifier, error) {
	if cfg.Auth.Mode == AuthFirebase {
		v, err := identity.NewFirebaseVerifier(ctx, cfg.Firestore.ProjectID, cfg.Firestore.CredentialsFile)
		if err != nil {
			return nil, errors.Wrap(err, "create firebase verifier")
		}
		return v, nil
	}
	return identity.DevVerifier{}, nil
}
