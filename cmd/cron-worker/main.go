package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/habits-backend/internal/billing"
	"github.com/angelmondragon/habits-backend/internal/cron"
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
)

const lockKeyFormat = "cron-worker:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	cronMetrics := metrics.NewCronJobMetrics(registry)

	conn := dbClient.DB()
	billingRepo := billing.NewRepository(conn)
	catalog := entitlements.NewCatalog(entitlements.NewRepository(conn), logg)

	// No local cache here; downgrades only notify the api processes.
	broadcaster, err := entitlements.NewBroadcaster(nil, redisClient, cfg.Entitlements.InvalidationChannel, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create entitlement broadcaster", err)
		os.Exit(1)
	}
	engine, err := subscriptions.NewEngine(billingRepo, habits.NewRepository(conn), catalog)
	if err != nil {
		logg.Error(context.Background(), "failed to create downgrade engine", err)
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
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}
	dedup, err := stripewebhook.NewDeduplicator(conn)
	if err != nil {
		logg.Error(context.Background(), "failed to create event store", err)
		os.Exit(1)
	}

	graceJob, err := cron.NewGraceReconcileJob(cron.GraceReconcileJobParams{
		Logger:     logg,
		Candidates: billingRepo,
		Lifecycle:  lifecycle,
		Metrics:    cronMetrics,
		BatchLimit: cfg.Cron.GraceBatchLimit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create grace reconcile job", err)
		os.Exit(1)
	}
	retentionJob, err := cron.NewEventRetentionJob(cron.EventRetentionJobParams{
		Logger:    logg,
		Pruner:    dedup,
		Metrics:   cronMetrics,
		Retention: cfg.Cron.EventRetention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create event retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockKey(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(graceJob, retentionJob),
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.GetID(),
		"interval": cfg.Cron.Interval.String(),
	})

	if cfg.Cron.MetricsAddr != "" {
		go serveMetrics(ctx, logg, cfg.Cron.MetricsAddr, registry)
	}

	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func serveMetrics(ctx context.Context, logg *logger.Logger, addr string, gatherer prometheus.Gatherer) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "metrics server stopped", err)
	}
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
