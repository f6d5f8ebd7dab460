package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/odyssey-wms/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-wms/internal/app"
	"github.com/odyssey-erp/odyssey-wms/internal/badges"
	"github.com/odyssey-erp/odyssey-wms/internal/borrow"
	"github.com/odyssey-erp/odyssey-wms/internal/fulfillment"
	"github.com/odyssey-erp/odyssey-wms/internal/inventory"
	"github.com/odyssey-erp/odyssey-wms/internal/kpi"
	"github.com/odyssey-erp/odyssey-wms/internal/observability"
	"github.com/odyssey-erp/odyssey-wms/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-wms/internal/platform/db"
	"github.com/odyssey-erp/odyssey-wms/internal/rbac"
	"github.com/odyssey-erp/odyssey-wms/internal/requisition"
	"github.com/odyssey-erp/odyssey-wms/internal/returns"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
	"github.com/odyssey-erp/odyssey-wms/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobsCLI(ctx, cfg, os.Args[2:]))
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}

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

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobsClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	workflowMetrics := observability.NewWorkflowMetrics(metrics.Registerer())

	auditLogger := shared.NewAuditLogger(pool)
	approvals := shared.NewApprovalRecorder(pool, logger)
	idempotency := shared.NewIdempotencyStore(pool)

	rbacService := rbac.NewService(rbac.NewRepository(pool), nil)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	inventoryService := inventory.NewService(inventory.NewRepository(pool), auditLogger, idempotency, workflowMetrics, logger)

	kpiService := kpi.NewService(kpi.NewRepository(pool), kpi.NewCache(redisClient, cfg.KPICacheTTL), workflowMetrics, logger)

	fulfillmentService := fulfillment.NewService(
		fulfillment.NewRepository(pool),
		rbacService,
		kpiService,
		jobsClient,
		workflowMetrics,
		logger,
		fulfillment.Options{SpareLocation: cfg.SpareLocation, Locale: cfg.LocationLocale},
	)

	requisitionService := requisition.NewService(requisition.NewRepository(pool), fulfillmentService, rbacService, approvals, auditLogger, idempotency, workflowMetrics, logger)
	borrowService := borrow.NewService(borrow.NewRepository(pool), inventoryService, rbacService, approvals, auditLogger, idempotency, workflowMetrics, logger, cfg.BorrowDefaultDays)
	returnService := returns.NewService(returns.NewRepository(pool), inventoryService, rbacService, approvals, auditLogger, idempotency, workflowMetrics, logger)

	badgeStore := badges.NewStore(redisClient)
	badgeService := badges.NewService(badges.NewRepository(pool), badgeStore, jobsClient, cfg.BadgeDebounce, logger)
	fulfillmentService.SetBadgeRefresher(badgeService)
	requisitionService.SetBadgeRefresher(badgeService)
	borrowService.SetBadgeRefresher(badgeService)
	returnService.SetBadgeRefresher(badgeService)

	hub := badges.NewHub(logger)
	go hub.Run(ctx, badgeStore)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Metrics:            metrics,
		FulfillmentHandler: fulfillment.NewHandler(logger, fulfillmentService),
		KPIHandler:         kpi.NewHandler(logger, kpiService, rbacMiddleware),
		RequisitionHandler: requisition.NewHandler(logger, requisitionService),
		BorrowHandler:      borrow.NewHandler(logger, borrowService),
		ReturnHandler:      returns.NewHandler(logger, returnService),
		InventoryHandler:   inventory.NewHandler(logger, inventoryService, rbacMiddleware),
		BadgeHandler:       badges.NewHandler(logger, badgeService, hub),
		JobHandler:         jobs.NewHandler(inspector, logger),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func runJobsCLI(ctx context.Context, cfg *app.Config, args []string) int {
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	client := asynq.NewClient(redisOpts)
	defer client.Close()
	inspector := asynq.NewInspector(redisOpts)
	defer inspector.Close()
	return cli.NewJobsCLI(client, inspector, cfg.IdempotencyRetention).Run(ctx, args, os.Stdout, os.Stderr)
}
