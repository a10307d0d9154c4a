package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/habits-backend/api/routes"
	"github.com/angelmondragon/habits-backend/internal/billing"
	"github.com/angelmondragon/habits-backend/internal/entitlements"
	"github.com/angelmondragon/habits-backend/internal/habits"
	"github.com/angelmondragon/habits-backend/internal/subscriptions"
	stripewebhook "github.com/angelmondragon/habits-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/habits-backend/pkg/config"
	"github.com/angelmondragon/habits-backend/pkg/db"
	"github.com/angelmondragon/habits-backend/pkg/instance"
	"github.com/angelmondragon/habits-backend/pkg/logger"
	"github.com/angelmondragon/habits-backend/pkg/metrics"
	"github.com/angelmondragon/habits-backend/pkg/migrate"
	"github.com/angelmondragon/habits-backend/pkg/redis"
	pkgstripe "github.com/angelmondragon/habits-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	conn := dbClient.DB()
	billingRepo := billing.NewRepository(conn)
	catalog := entitlements.NewCatalog(entitlements.NewRepository(conn), logg)

	cache, err := entitlements.NewCache(entitlements.CacheParams{
		Computer: entitlements.NewResolver(billingRepo, catalog),
		TTL:      cfg.Entitlements.CacheTTL,
		Metrics:  metrics.NewCacheMetrics(registry),
		Logger:   logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create entitlement cache", err)
		os.Exit(1)
	}
	go cache.RunJanitor(ctx, cfg.Entitlements.SweepInterval)
	go func() {
		err := entitlements.ListenWithRetry(ctx, redisClient, cfg.Entitlements.InvalidationChannel, cache, logg, time.Second, 30*time.Second)
		if err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "entitlement invalidation listener stopped", err)
		}
	}()

	broadcaster, err := entitlements.NewBroadcaster(cache, redisClient, cfg.Entitlements.InvalidationChannel, logg)
	if err != nil {
		logg.Error(ctx, "failed to create entitlement broadcaster", err)
		os.Exit(1)
	}

	engine, err := subscriptions.NewEngine(billingRepo, habits.NewRepository(conn), catalog)
	if err != nil {
		logg.Error(ctx, "failed to create downgrade engine", err)
		os.Exit(1)
	}
	lifecycle, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              billingRepo,
		Engine:            engine,
		Invalidator:       broadcaster,
		TransactionRunner: dbClient,
		Logger:            logg,
		Metrics:           metrics.NewTransitionMetrics(registry),
		GracePeriod:       cfg.Billing.GracePeriod,
	})
	if err != nil {
		logg.Error(ctx, "failed to create subscription service", err)
		os.Exit(1)
	}

	authenticator, err := stripewebhook.NewAuthenticator(stripeClient.WebhookSecret(), cfg.Billing.SignatureTolerance)
	if err != nil {
		logg.Error(ctx, "failed to create webhook authenticator", err)
		os.Exit(1)
	}
	dedup, err := stripewebhook.NewDeduplicator(conn)
	if err != nil {
		logg.Error(ctx, "failed to create webhook deduplicator", err)
		os.Exit(1)
	}
	plusPrice, proPrice := stripeClient.PriceIDs()
	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Authenticator: authenticator,
		Deduplicator:  dedup,
		Decoder:       stripewebhook.NewDecoder(plusPrice, proPrice),
		Lifecycle:     lifecycle,
		Logger:        logg,
		Metrics:       metrics.NewWebhookMetrics(registry),
	})
	if err != nil {
		logg.Error(ctx, "failed to create webhook service", err)
		os.Exit(1)
	}

	billingService, err := billing.NewService(billing.ServiceParams{
		Repo:         billingRepo,
		Provider:     billing.NewStripeClient(stripeClient),
		Entitlements: cache,
		Logger:       logg,
		PlusPriceID:  plusPrice,
		ProPriceID:   proPrice,
		FrontendURL:  cfg.App.FrontendURL,
	})
	if err != nil {
		logg.Error(ctx, "failed to create billing service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"instance":   instance.GetID(),
		"stripe_env": stripeClient.Environment(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:       cfg,
			Logger:       logg,
			DB:           dbClient,
			Redis:        redisClient,
			Gatherer:     registry,
			Webhooks:     webhookService,
			Billing:      billingService,
			Entitlements: cache,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
		logg.Info(shutdownCtx, "api server shut down gracefully")
	}
}
