package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/odyssey-wms/internal/app"
	"github.com/odyssey-erp/odyssey-wms/internal/badges"
	"github.com/odyssey-erp/odyssey-wms/internal/borrow"
	"github.com/odyssey-erp/odyssey-wms/internal/fulfillment"
	"github.com/odyssey-erp/odyssey-wms/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-wms/internal/jobs"
	"github.com/odyssey-erp/odyssey-wms/internal/kpi"
	"github.com/odyssey-erp/odyssey-wms/internal/observability"
	"github.com/odyssey-erp/odyssey-wms/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-wms/internal/platform/db"
	"github.com/odyssey-erp/odyssey-wms/internal/rbac"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
	"github.com/odyssey-erp/odyssey-wms/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	approvals := shared.NewApprovalRecorder(pool, logger)
	idempotency := shared.NewIdempotencyStore(pool)
	rbacService := rbac.NewService(rbac.NewRepository(pool), nil)

	inventoryService := inventory.NewService(inventory.NewRepository(pool), auditLogger, idempotency, nil, logger)
	kpiService := kpi.NewService(kpi.NewRepository(pool), kpi.NewCache(redisClient, cfg.KPICacheTTL), nil, logger)
	// Deliver only persists; the sink is never called from the worker.
	fulfillmentService := fulfillment.NewService(
		fulfillment.NewRepository(pool),
		rbacService,
		kpiService,
		nil,
		nil,
		logger,
		fulfillment.Options{SpareLocation: cfg.SpareLocation, Locale: cfg.LocationLocale},
	)
	borrowService := borrow.NewService(borrow.NewRepository(pool), inventoryService, rbacService, approvals, auditLogger, idempotency, nil, logger, cfg.BorrowDefaultDays)

	// Recompute runs inline here, so no enqueuer.
	badgeService := badges.NewService(badges.NewRepository(pool), badges.NewStore(redisClient), nil, 0, logger)

	metrics := observability.NewMetrics()
	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("starting worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	handlers := &jobs.Handlers{
		Notifications: fulfillmentService,
		Badges:        badgeService,
		Borrows:       borrowService,
		Idempotency:   idempotency,
		Metrics:       jobmetrics.NewMetrics(metrics.Registerer()),
		Logger:        logger,
	}

	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers:    handlers.TaskHandlers(),
		Cron: []jobs.CronRegistration{
			{Spec: cfg.OverdueCron, Task: jobs.NewOverdueScanTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.IdempotencyCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
