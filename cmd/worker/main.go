package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-pos/meridian-pos/internal/app"
	"github.com/meridian-pos/meridian-pos/internal/audit"
	"github.com/meridian-pos/meridian-pos/internal/backup"
	"github.com/meridian-pos/meridian-pos/internal/integrity"
	"github.com/meridian-pos/meridian-pos/internal/maintenance"
	"github.com/meridian-pos/meridian-pos/internal/observability"
	platformcache "github.com/meridian-pos/meridian-pos/internal/platform/cache"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/store"
	"github.com/meridian-pos/meridian-pos/internal/store/cache"
	"github.com/meridian-pos/meridian-pos/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := platformcache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	productRepo := store.NewProductRepository(pool)
	saleRepo := store.NewSaleRepository(pool)
	settingRepo := store.NewSettingRepository(pool)
	systemRepo := store.NewSystemRepository(pool)

	auditService := audit.NewService(audit.NewRepository(pool), logger)
	metrics := observability.NewMetrics()

	// The worker keeps its own cache instance; cleanup clears it locally
	// while the server process clears its own on the same schedule.
	queryCache := cache.New(cache.WithMaxEntries(cfg.CacheMaxEntries), cache.WithTTL(cfg.CacheTTL))

	backupManager := backup.NewManager(backup.Config{
		Repository: backup.NewRepository(pool),
		System:     systemRepo,
		Cache:      queryCache,
		Recorder:   auditService,
		Metrics:    metrics,
		Logger:     logger,
		MaxBackups: cfg.MaxBackups,
	})

	checker := integrity.NewChecker(productRepo, saleRepo, auditService, queryCache, logger)

	scheduler := maintenance.New(maintenance.Config{
		Settings:        settingRepo,
		Sales:           saleRepo,
		Cache:           queryCache,
		Backups:         backupManager,
		Checker:         checker,
		Recorder:        auditService,
		Pruner:          auditService,
		Metrics:         metrics,
		Logger:          logger,
		SyncInterval:    cfg.SyncInterval,
		CleanupInterval: cfg.CleanupInterval,
		AuditRetention:  cfg.AuditRetention,
		ArchiveAge:      cfg.ArchiveAge,
	})

	handlers := jobs.NewMaintenanceHandlers(scheduler, logger)

	syncTask, err := jobs.NewSyncTask(jobs.SyncPayload{Reason: "scheduled"})
	if err != nil {
		logger.Error("build sync task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers:  handlers.TaskHandlers(),
		Cron: []jobs.CronRegistration{
			{Spec: "*/5 * * * *", Task: syncTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: "0 3 * * *", Task: jobs.NewCleanupTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
