// Package maintenance runs the periodic sync, archival and cleanup passes.
package maintenance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/audit"
	"github.com/meridian-pos/meridian-pos/internal/integrity"
	"github.com/meridian-pos/meridian-pos/internal/store"
	"github.com/meridian-pos/meridian-pos/internal/store/cache"
)

// Scheduler states. A single CAS on this value is the only concurrency
// guard; a pass that finds the scheduler busy is a no-op.
const (
	stateIdle int32 = iota
	stateSyncing
)

// Sync modes as reported to metrics.
const (
	ModeFull  = "full"
	ModeQuick = "quick"
)

// BackupCreator takes snapshots; *backup.Manager satisfies it.
type BackupCreator interface {
	Create(ctx context.Context, backupType string, data *store.SystemData) (time.Time, error)
}

// Checker runs integrity passes; *integrity.Checker satisfies it.
type Checker interface {
	Check(ctx context.Context) ([]integrity.Issue, error)
}

// Recorder appends audit entries.
type Recorder interface {
	Record(ctx context.Context, action string, details interface{})
}

// Pruner trims old audit entries; *audit.Service satisfies it.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Time) (int, error)
}

// Metrics counts sync runs.
type Metrics interface {
	SyncRun(mode, outcome string)
}

// Scheduler drives the background maintenance passes. Start kicks off an
// immediate sync and then ticks; Sync, QuickSync and Cleanup can also be
// invoked directly by external triggers.
type Scheduler struct {
	settings  store.SettingRepository
	sales     store.SaleRepository
	cache     *cache.Cache
	backups   BackupCreator
	checker   Checker
	recorder  Recorder
	pruner    Pruner
	metrics   Metrics
	logger    *slog.Logger
	syncEvery  time.Duration
	cleanEvery time.Duration
	auditKeep  time.Duration
	archiveAge time.Duration

	state    atomic.Int32
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
	now      func() time.Time
}

// Config collects the scheduler dependencies and policy knobs.
type Config struct {
	Settings store.SettingRepository
	Sales    store.SaleRepository
	Cache    *cache.Cache
	Backups  BackupCreator
	Checker  Checker
	Recorder Recorder
	Pruner   Pruner
	Metrics  Metrics
	Logger   *slog.Logger

	SyncInterval    time.Duration
	CleanupInterval time.Duration
	AuditRetention  time.Duration
	ArchiveAge      time.Duration
}

// New constructs an idle scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		settings:   cfg.Settings,
		sales:      cfg.Sales,
		cache:      cfg.Cache,
		backups:    cfg.Backups,
		checker:    cfg.Checker,
		recorder:   cfg.Recorder,
		pruner:     cfg.Pruner,
		metrics:    cfg.Metrics,
		logger:     logger,
		syncEvery:  cfg.SyncInterval,
		cleanEvery: cfg.CleanupInterval,
		auditKeep:  cfg.AuditRetention,
		archiveAge: cfg.ArchiveAge,
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Start performs an immediate sync and launches the tickers. It returns
// after the first sync completes; the tickers run until Stop or ctx
// cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	if err := s.Sync(ctx); err != nil {
		s.logger.Error("maintenance: initial sync", slog.Any("error", err))
	}
	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	syncTicker := time.NewTicker(s.syncEvery)
	cleanTicker := time.NewTicker(s.cleanEvery)
	defer syncTicker.Stop()
	defer cleanTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-syncTicker.C:
			if err := s.Sync(ctx); err != nil {
				s.logger.Error("maintenance: scheduled sync", slog.Any("error", err))
			}
		case <-cleanTicker.C:
			if err := s.Cleanup(ctx); err != nil {
				s.logger.Error("maintenance: scheduled cleanup", slog.Any("error", err))
			}
		}
	}
}

// Stop cancels the tickers. Safe to call more than once; an in-flight pass
// runs to completion.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *Scheduler) acquire() bool {
	return s.state.CompareAndSwap(stateIdle, stateSyncing)
}

func (s *Scheduler) release() {
	s.state.Store(stateIdle)
}

// Busy reports whether a pass is in flight.
func (s *Scheduler) Busy() bool {
	return s.state.Load() == stateSyncing
}

// Sync performs a full maintenance pass: integrity check, change-detected
// auto_sync backup, archival of old sales, and the last-sync marker. A pass
// already in flight makes Sync a silent no-op.
func (s *Scheduler) Sync(ctx context.Context) error {
	if !s.acquire() {
		return nil
	}
	defer s.release()

	started := s.now().UTC()
	if _, err := s.checker.Check(ctx); err != nil {
		s.logger.Warn("maintenance: integrity check", slog.Any("error", err))
	}

	changed, err := s.changedSinceLastSync(ctx)
	if err != nil {
		s.syncOutcome(ModeFull, "error")
		return fmt.Errorf("maintenance: change detection: %w", err)
	}
	if changed {
		if _, err := s.backups.Create(ctx, store.BackupAutoSync, nil); err != nil {
			s.syncOutcome(ModeFull, "error")
			return fmt.Errorf("maintenance: auto-sync backup: %w", err)
		}
	} else {
		s.logger.Debug("maintenance: no changes since last sync, skipping backup")
	}

	if err := s.archiveOldSales(ctx); err != nil {
		s.logger.Error("maintenance: archive sales", slog.Any("error", err))
	}

	if err := s.recordLastSync(ctx, started); err != nil {
		s.logger.Warn("maintenance: record last-sync marker", slog.Any("error", err))
	}
	s.syncOutcome(ModeFull, "ok")
	return nil
}

// QuickSync takes a quick_sync backup without the integrity and archival
// passes. Used by the nudge triggers (focus regain, connectivity restored,
// shutdown).
func (s *Scheduler) QuickSync(ctx context.Context) error {
	if !s.acquire() {
		return nil
	}
	defer s.release()

	if _, err := s.backups.Create(ctx, store.BackupQuickSync, nil); err != nil {
		s.syncOutcome(ModeQuick, "error")
		return fmt.Errorf("maintenance: quick-sync backup: %w", err)
	}
	if err := s.recordLastSync(ctx, s.now().UTC()); err != nil {
		s.logger.Warn("maintenance: record last-sync marker", slog.Any("error", err))
	}
	s.syncOutcome(ModeQuick, "ok")
	return nil
}

// Cleanup clears the query cache, prunes old audit entries and reruns the
// integrity check.
func (s *Scheduler) Cleanup(ctx context.Context) error {
	if !s.acquire() {
		return nil
	}
	defer s.release()

	s.cache.Clear()

	cutoff := s.now().UTC().Add(-s.auditKeep)
	pruned, err := s.pruner.Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("maintenance: prune audit: %w", err)
	}
	if s.recorder != nil {
		s.recorder.Record(ctx, audit.ActionCleanup, audit.CleanupDetails{
			AuditPruned:  pruned,
			PrunedBefore: cutoff,
		})
	}
	if _, err := s.checker.Check(ctx); err != nil {
		s.logger.Warn("maintenance: integrity check", slog.Any("error", err))
	}
	return nil
}

// changedSinceLastSync compares the last-write marker against the last-sync
// marker. A missing marker on either side means a backup is due.
func (s *Scheduler) changedSinceLastSync(ctx context.Context) (bool, error) {
	lastWrite, ok, err := s.marker(ctx, store.SettingLastWriteAt)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	lastSync, ok, err := s.marker(ctx, store.SettingLastSyncAt)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return lastWrite.After(lastSync), nil
}

func (s *Scheduler) marker(ctx context.Context, key string) (time.Time, bool, error) {
	setting, err := s.settings.Get(ctx, key)
	if err == store.ErrNotFound {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	var at time.Time
	if err := json.Unmarshal(setting.Value, &at); err != nil {
		return time.Time{}, false, nil
	}
	return at, true, nil
}

// recordLastSync writes the marker through the repository directly so the
// sync itself does not count as a data write.
func (s *Scheduler) recordLastSync(ctx context.Context, at time.Time) error {
	stamp, err := json.Marshal(at)
	if err != nil {
		return err
	}
	return s.settings.Set(ctx, store.Setting{Key: store.SettingLastSyncAt, Value: stamp})
}

// archiveOldSales snapshots sales older than the archive age into an
// archive-tagged backup and only then deletes them from the live collection.
func (s *Scheduler) archiveOldSales(ctx context.Context) error {
	if s.archiveAge <= 0 {
		return nil
	}
	cutoff := s.now().UTC().Add(-s.archiveAge)
	old, err := s.sales.OlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(old) == 0 {
		return nil
	}
	backupAt, err := s.backups.Create(ctx, store.BackupArchive, &store.SystemData{
		Products: []store.Product{},
		Sales:    old,
		Settings: []store.Setting{},
	})
	if err != nil {
		return fmt.Errorf("archive backup: %w", err)
	}
	deleted, err := s.sales.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete archived sales: %w", err)
	}
	s.cache.InvalidatePattern(store.CollectionSales)
	if s.recorder != nil {
		s.recorder.Record(ctx, audit.ActionArchive, audit.ArchiveDetails{
			Archived: deleted,
			Cutoff:   cutoff,
			BackupAt: backupAt,
		})
	}
	s.logger.Info("maintenance: archived sales",
		slog.Int("count", deleted), slog.Time("cutoff", cutoff))
	return nil
}

func (s *Scheduler) syncOutcome(mode, outcome string) {
	if s.metrics != nil {
		s.metrics.SyncRun(mode, outcome)
	}
}
