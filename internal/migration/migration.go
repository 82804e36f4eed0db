// Package migration ingests the legacy flat-storage payload into the
// structured store without duplicating or losing records.
package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/audit"
	"github.com/meridian-pos/meridian-pos/internal/store"
	"github.com/meridian-pos/meridian-pos/internal/store/cache"
)

// BackupCreator takes snapshots. *backup.Manager satisfies it.
type BackupCreator interface {
	Create(ctx context.Context, backupType string, data *store.SystemData) (time.Time, error)
}

// Recorder appends audit entries.
type Recorder interface {
	Record(ctx context.Context, action string, details interface{})
}

// Coordinator merges or bulk-loads legacy data exactly once per payload.
type Coordinator struct {
	flat     store.FlatStore
	products store.ProductRepository
	sales    store.SaleRepository
	settings store.SettingRepository
	queries  *cache.Cache
	backups  BackupCreator
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// Config collects Coordinator dependencies.
type Config struct {
	Flat     store.FlatStore
	Products store.ProductRepository
	Sales    store.SaleRepository
	Settings store.SettingRepository
	Cache    *cache.Cache
	Backups  BackupCreator
	Recorder Recorder
	Logger   *slog.Logger
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		flat:     cfg.Flat,
		products: cfg.Products,
		sales:    cfg.Sales,
		settings: cfg.Settings,
		queries:  cfg.Cache,
		backups:  cfg.Backups,
		recorder: cfg.Recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Run performs one migration pass. An absent legacy payload is a no-op.
// Product and Sale merges are independent units of work: a failure in one is
// recorded and does not prevent the other from completing, but the run as a
// whole reports the error to its caller. The legacy payload is never deleted
// here, so re-running is always safe: records are de-duplicated by id and an
// existing record wins over a legacy duplicate.
func (c *Coordinator) Run(ctx context.Context) error {
	legacy, present, err := c.flat.Load(ctx)
	if err != nil {
		return fmt.Errorf("migration: read legacy payload: %w", err)
	}
	if !present {
		return nil
	}

	c.record(ctx, audit.ActionMigrationStart, audit.MigrationDetails{
		Products: len(legacy.Products),
		Sales:    len(legacy.Sales),
		Settings: len(legacy.Settings),
	})

	productCount, err := c.products.Count(ctx)
	if err != nil {
		c.record(ctx, audit.ActionMigrationError, audit.MigrationErrorDetails{
			Collection: store.CollectionProducts,
			Reason:     err.Error(),
		})
		return fmt.Errorf("migration: count products: %w", err)
	}
	saleCount, err := c.sales.Count(ctx)
	if err != nil {
		c.record(ctx, audit.ActionMigrationError, audit.MigrationErrorDetails{
			Collection: store.CollectionSales,
			Reason:     err.Error(),
		})
		return fmt.Errorf("migration: count sales: %w", err)
	}

	mode := "merge"
	if productCount == 0 && saleCount == 0 {
		mode = "bulk"
	}

	var errs []error
	if _, err := c.products.BulkInsert(ctx, legacy.Products); err != nil {
		c.logger.Error("migration: products unit failed", slog.Any("error", err))
		c.record(ctx, audit.ActionMigrationError, audit.MigrationErrorDetails{
			Collection: store.CollectionProducts,
			Reason:     err.Error(),
		})
		errs = append(errs, err)
	}
	if _, err := c.sales.BulkInsert(ctx, legacy.Sales); err != nil {
		c.logger.Error("migration: sales unit failed", slog.Any("error", err))
		c.record(ctx, audit.ActionMigrationError, audit.MigrationErrorDetails{
			Collection: store.CollectionSales,
			Reason:     err.Error(),
		})
		errs = append(errs, err)
	}
	if err := c.mergeSettings(ctx, legacy.Settings); err != nil {
		c.logger.Error("migration: settings unit failed", slog.Any("error", err))
		c.record(ctx, audit.ActionMigrationError, audit.MigrationErrorDetails{
			Collection: store.CollectionSettings,
			Reason:     err.Error(),
		})
		errs = append(errs, err)
	}
	// Warm reads predate the merged records now, whether or not every unit
	// succeeded.
	if c.queries != nil {
		c.queries.Clear()
	}
	if len(errs) > 0 {
		return fmt.Errorf("migration: %w", errors.Join(errs...))
	}

	if _, err := c.backups.Create(ctx, store.BackupMigration, &legacy); err != nil {
		c.logger.Warn("migration: backup of legacy payload", slog.Any("error", err))
	}

	if err := c.flat.SetMarker(ctx, store.MarkerMigrated, c.now()); err != nil {
		c.logger.Warn("migration: set migrated marker", slog.Any("error", err))
	}

	finalProducts, _ := c.products.Count(ctx)
	finalSales, _ := c.sales.Count(ctx)
	c.record(ctx, audit.ActionMigrationComplete, audit.MigrationDetails{
		Products: finalProducts,
		Sales:    finalSales,
		Settings: len(legacy.Settings),
		Mode:     mode,
	})
	return nil
}

// mergeSettings inserts legacy settings whose key is not already present.
// Existing values always win.
func (c *Coordinator) mergeSettings(ctx context.Context, legacy []store.Setting) error {
	keys, err := c.settings.Keys(ctx)
	if err != nil {
		return err
	}
	existing := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		existing[key] = struct{}{}
	}
	for _, s := range legacy {
		if _, ok := existing[s.Key]; ok {
			continue
		}
		if err := c.settings.Set(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Finalize is the human-driven last step: it removes the legacy payload and
// stamps the migration-complete marker. Until it runs, repeated Run calls
// stay safe against the retained blob.
func (c *Coordinator) Finalize(ctx context.Context) error {
	if _, present, err := c.flat.Load(ctx); err != nil {
		return fmt.Errorf("migration: finalize: %w", err)
	} else if !present {
		return store.ErrNotFound
	}
	if err := c.flat.Delete(ctx); err != nil {
		return fmt.Errorf("migration: delete legacy payload: %w", err)
	}
	if err := c.flat.SetMarker(ctx, store.MarkerMigrationComplete, c.now()); err != nil {
		return fmt.Errorf("migration: set completion marker: %w", err)
	}
	c.record(ctx, audit.ActionMigrationComplete, audit.MigrationDetails{Mode: "finalized"})
	return nil
}

func (c *Coordinator) record(ctx context.Context, action string, details interface{}) {
	if c.recorder != nil {
		c.recorder.Record(ctx, action, details)
	}
}
