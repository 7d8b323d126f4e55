// Command seed-catalog loads products, and optionally an admin API key, into
// the configured document store.
//
// Product files are JSON lines, one product object per line, optionally
// gzip-compressed (.gz). A product id seen in an earlier file wins.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appkg "github.com/xenking/kart-checkout/internal/app"
	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/repository"
)

const writeConcurrency = 8

func main() {
	var (
		apiKey       string
		apiKeyName   string
		defaultStock int64
	)
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or KART_SEED_API_KEY env)")
	flag.StringVar(&apiKeyName, "api-key-name", "seed admin", "name recorded for the seeded API key")
	flag.Int64Var(&defaultStock, "default-stock", 100, "stock of products that do not specify one")
	flag.Parse()

	files := flag.Args()
	if apiKey == "" {
		apiKey = os.Getenv("KART_SEED_API_KEY")
	}

	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		if len(files) == 0 && apiKey == "" {
			return errors.New("nothing to seed: pass product files and/or --api-key")
		}
		cfg, err := appkg.LoadConfig()
		if err != nil {
			return err
		}
		return run(ctx, lg, cfg, files, defaultStock, apiKey, apiKeyName)
	})
}

func run(
	ctx context.Context,
	lg *zap.Logger,
	cfg *appkg.Config,
	files []string,
	defaultStock int64,
	apiKey, apiKeyName string,
) error {
	store, err := appkg.OpenStore(ctx, lg, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if len(files) > 0 {
		products, err := loadCatalog(ctx, lg, files, defaultStock)
		if err != nil {
			return errors.Wrap(err, "load catalog")
		}

		repo := repository.NewProductRepository(store)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(writeConcurrency)
		for _, p := range products {
			g.Go(func() error {
				return errors.Wrapf(repo.Put(gctx, p), "put product %s", p.ID)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		lg.Info("Products written", zap.Int("count", len(products)))
	}

	if apiKey != "" {
		info := auth.APIKeyInfo{
			ID:      "seed",
			KeyHash: auth.HashKey(apiKey, []byte(cfg.Auth.AdminKeyPepper)),
			Name:    apiKeyName,
			Scopes:  []string{auth.ScopeOrdersAdmin},
			Active:  true,
		}
		if err := repository.NewAPIKeyRepository(store).Put(ctx, info); err != nil {
			return errors.Wrap(err, "put api key")
		}
		lg.Info("API key written", zap.String("name", apiKeyName), zap.Strings("scopes", info.Scopes))
	}
	return nil
}
