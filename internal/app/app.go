// Package app wires the API server.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/stock"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/repository"
	"github.com/xenking/kart-checkout/internal/session"
	"github.com/xenking/kart-checkout/pkg/health"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("backend", cfg.Backend),
		zap.String("auth", cfg.Auth.Mode),
	)
	tp, mp := m.TracerProvider(), m.MeterProvider()

	store, err := OpenStore(ctx, lg, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	verifier, err := NewVerifier(ctx, cfg)
	if err != nil {
		return err
	}

	healthSvc := health.New(lg.Named("health"))
	healthSvc.AddReadinessCheck("docstore", 5*time.Second, health.PingCheck(store))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second))
	healthSvc.Start(ctx, 10*time.Second)

	// Repositories.
	productRepo := repository.NewProductRepository(store)
	orderRepo := repository.NewOrderRepository(store)
	addressRepo := repository.NewAddressRepository(store)
	apikeyRepo := repository.NewAPIKeyRepository(store)

	// Domain services.
	reserver, err := stock.NewReserver(store, lg.Named("stock"), tp, mp)
	if err != nil {
		return errors.Wrap(err, "create reserver")
	}
	writer, err := order.NewWriter(orderRepo, addressRepo, lg.Named("order"), tp, mp)
	if err != nil {
		return errors.Wrap(err, "create order writer")
	}
	desk := order.NewDesk(orderRepo, lg.Named("order"))

	cartLg := lg.Named("cart")
	sessions := session.NewRegistry(func() *cart.Manager {
		return cart.NewManager(store, reserver, cartLg, cart.Options{
			FlushDelay: cfg.Cart.FlushDelay,
			HoldTTL:    cfg.Cart.HoldTTL,
		})
	}, lg.Named("session"), session.Options{IdleTTL: cfg.Session.IdleTTL})
	go sessions.Run(ctx, cfg.Session.SweepInterval)

	// HTTP handlers.
	h := handler.NewHandler(
		sessions,
		productRepo,
		writer,
		desk,
		verifier,
		handler.NewSecurityHandler(apikeyRepo, []byte(cfg.Auth.AdminKeyPepper), auth.ScopeOrdersAdmin),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	limiter := httpmiddleware.NewRateLimiter(httpmiddleware.RateLimitConfig{
		Max:     cfg.RateLimit.Max,
		Window:  cfg.RateLimit.Window,
		KeyFunc: httpmiddleware.HeaderOrIP(handler.SessionHeader),
	})
	go limiter.Run(ctx)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			limiter.Middleware(),
			httpmiddleware.Instrument("kart-api", tp, mp),
			httpmiddleware.LogRequests(),
		),
	}
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		if err := sessions.Close(shutdownCtx); err != nil {
			lg.Error("Flush carts on shutdown", zap.Error(err))
		}
		healthSvc.Stop()
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
