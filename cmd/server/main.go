package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	appmarket "github.com/chainmirror/backend/internal/application/market"
	"github.com/chainmirror/backend/internal/infrastructure/auth"
	"github.com/chainmirror/backend/internal/infrastructure/cache"
	"github.com/chainmirror/backend/internal/infrastructure/config"
	"github.com/chainmirror/backend/internal/infrastructure/ledger"
	"github.com/chainmirror/backend/internal/infrastructure/logger"
	"github.com/chainmirror/backend/internal/infrastructure/metadata"
	"github.com/chainmirror/backend/internal/infrastructure/persistence"
	"github.com/chainmirror/backend/internal/infrastructure/telemetry"
	"github.com/chainmirror/backend/internal/interfaces/http/handler"
	"github.com/chainmirror/backend/internal/interfaces/http/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: cfg.App.Name,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting ChainMirror",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}

	// Durable tier.
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := telemetry.RegisterDBTracing(db.DB, cfg.Telemetry, log); err != nil {
		log.Warn("Failed to register database tracing", zap.Error(err))
	}
	log.Info("Database connected")

	// Ephemeral tier.
	redisTier, err := cache.NewRedisTier(cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer func() {
		if err := redisTier.Close(); err != nil {
			log.Error("Error closing Redis", zap.Error(err))
		}
	}()
	log.Info("Redis connected")

	// Ledger connection is mandatory: the cold path has nowhere to go
	// without it.
	gateway := ledger.NewGateway(cfg.Ledger, log)
	if err := gateway.Connect(ctx); err != nil {
		log.Fatal("Failed to connect to ledger endpoint", zap.Error(err))
	}
	defer gateway.Close()
	log.Info("Ledger connected", zap.String("endpoint", cfg.Ledger.Endpoint))

	for _, result := range gateway.DiscoverSeriesTokens(ctx) {
		if result.Err != nil {
			log.Warn("Token discovery entry failed",
				zap.Uint64("series_id", result.SeriesID),
				zap.Error(result.Err))
		}
	}

	reader := ledger.NewReader(gateway)
	resolver := metadata.NewResolver(cfg.Metadata, log)

	assetRepo := persistence.NewGormAssetRepository(db.DB)
	listingRepo := persistence.NewGormListingRepository(db.DB)
	ownershipRepo := persistence.NewGormOwnershipRepository(db.DB)

	assets := appmarket.NewAssetService(appmarket.AssetServiceConfig{
		Contract:         cfg.Ledger.RegistryAddress,
		TTL:              cfg.Cache.AssetTTL,
		ListTTL:          cfg.Cache.ListTTL,
		FetchConcurrency: cfg.Reconcile.Concurrency,
	}, reader, resolver, assetRepo, redisTier, log)

	listings := appmarket.NewListingService(appmarket.ListingServiceConfig{
		Contract:         cfg.Ledger.MarketplaceAddress,
		TTL:              cfg.Cache.ListingTTL,
		ListTTL:          cfg.Cache.ListTTL,
		FetchConcurrency: cfg.Reconcile.Concurrency,
	}, reader, listingRepo, redisTier, log)

	balances := appmarket.NewBalanceService(appmarket.BalanceServiceConfig{
		Contract:    cfg.Ledger.RegistryAddress,
		TTL:         cfg.Cache.BalanceTTL,
		Concurrency: cfg.Reconcile.Concurrency,
	}, reader, assets, ownershipRepo, redisTier, log)

	// Event-driven invalidation.
	manager := ledger.NewSubscriptionManager(gateway, log)
	invalidator := appmarket.NewInvalidator(assets, listings, balances, gateway, log)
	invalidator.Bind(manager)
	manager.Start(ctx)

	reconciler := appmarket.NewReconciler(cfg.Reconcile, assets, listings, balances, log)
	reconciler.Start(ctx)

	if meterProvider.IsEnabled() {
		cacheMetrics, err := telemetry.NewCacheMetrics(meterProvider)
		if err != nil {
			log.Warn("Failed to register cache metrics", zap.Error(err))
		} else {
			cacheMetrics.Register("asset", assets.Stats)
			cacheMetrics.Register("listing", listings.Stats)
			cacheMetrics.Register("balance", balances.Stats)
		}
	}

	tokens := auth.NewAdminTokenService(cfg.Admin)

	handlers := router.Handlers{
		Assets:   handler.NewAssetHandler(assets, log),
		Listings: handler.NewListingHandler(listings, log),
		Balances: handler.NewBalanceHandler(balances, log),
		Admin: handler.NewAdminHandler(reconciler, []handler.StatsFunc{
			assets.Stats, listings.Stats, balances.Stats,
		}, log),
		System: handler.NewSystemHandler(map[string]handler.Probe{
			"database": func(context.Context) error { return db.Ping() },
			"redis":    redisTier.Ping,
			"ledger":   gateway.Healthy,
		}, log),
	}

	engine := router.Setup(cfg.HTTP, cfg.App.Env, handlers, tokens, meterProvider, tracerProvider, log)

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}

	// Stop event consumption before closing the stores so in-flight
	// handlers finish against live services.
	manager.Stop()
	assets.Close()
	listings.Close()
	balances.Close()

	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Meter provider shutdown failed", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracer provider shutdown failed", zap.Error(err))
	}

	log.Info("Shutdown complete")
}
