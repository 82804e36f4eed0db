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

	"github.com/meridian-pos/meridian-pos/internal/app"
	"github.com/meridian-pos/meridian-pos/internal/audit"
	audithttp "github.com/meridian-pos/meridian-pos/internal/audit/http"
	"github.com/meridian-pos/meridian-pos/internal/backup"
	"github.com/meridian-pos/meridian-pos/internal/integrity"
	"github.com/meridian-pos/meridian-pos/internal/maintenance"
	"github.com/meridian-pos/meridian-pos/internal/migration"
	"github.com/meridian-pos/meridian-pos/internal/observability"
	platformcache "github.com/meridian-pos/meridian-pos/internal/platform/cache"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/store"
	"github.com/meridian-pos/meridian-pos/internal/store/cache"
	storehttp "github.com/meridian-pos/meridian-pos/internal/store/http"
	"github.com/meridian-pos/meridian-pos/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
	flatStore := store.NewFlatStore(redisClient)

	metrics := observability.NewMetrics()
	queryCache := cache.New(
		cache.WithMaxEntries(cfg.CacheMaxEntries),
		cache.WithTTL(cfg.CacheTTL),
		cache.WithStats(metrics),
	)

	// The engine being down must not keep the whole layer down: fall back
	// to the flat-storage blob and serve what we can.
	var (
		service      *store.Service
		scheduler    *maintenance.Scheduler
		storeHandler *storehttp.Handler
		auditHandler *audithttp.Handler
	)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres, degrading to flat storage", slog.Any("error", err))
		service = store.NewService(store.ServiceConfig{
			Flat:     flatStore,
			Cache:    queryCache,
			Logger:   logger,
			CacheTTL: cfg.CacheTTL,
			Degraded: true,
		})
		storeHandler = storehttp.NewHandler(logger, service, nil, nil, nil)
	} else {
		defer pool.Close()
		if err := db.EnsureSchema(ctx, pool); err != nil {
			logger.Error("ensure schema", slog.Any("error", err))
			os.Exit(1)
		}

		productRepo := store.NewProductRepository(pool)
		saleRepo := store.NewSaleRepository(pool)
		settingRepo := store.NewSettingRepository(pool)
		systemRepo := store.NewSystemRepository(pool)

		auditService := audit.NewService(audit.NewRepository(pool), logger)

		backupManager := backup.NewManager(backup.Config{
			Repository: backup.NewRepository(pool),
			System:     systemRepo,
			Cache:      queryCache,
			Recorder:   auditService,
			Metrics:    metrics,
			Logger:     logger,
			MaxBackups: cfg.MaxBackups,
		})

		service = store.NewService(store.ServiceConfig{
			Products: productRepo,
			Sales:    saleRepo,
			Settings: settingRepo,
			System:   systemRepo,
			Cache:    queryCache,
			Recorder: auditService,
			Backups:  backupManager,
			Flat:     flatStore,
			Logger:   logger,
			CacheTTL: cfg.CacheTTL,
		})

		checker := integrity.NewChecker(productRepo, saleRepo, auditService, queryCache, logger)

		migrator := migration.NewCoordinator(migration.Config{
			Flat:     flatStore,
			Products: productRepo,
			Sales:    saleRepo,
			Settings: settingRepo,
			Cache:    queryCache,
			Backups:  backupManager,
			Recorder: auditService,
			Logger:   logger,
		})

		scheduler = maintenance.New(maintenance.Config{
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
		scheduler.Start(ctx)
		defer scheduler.Stop()

		storeHandler = storehttp.NewHandler(logger, service, backupManager, scheduler, migrator)
		auditHandler = audithttp.NewHandler(logger, auditService)
	}

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	storeHandler = storeHandler.WithEnqueuer(jobClient)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		StoreHandler: storeHandler,
		AuditHandler: auditHandler,
		JobHandler:   jobHandler,
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr), slog.Bool("degraded", service.Degraded()))
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
