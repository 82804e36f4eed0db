// Package backup creates, rotates and restores point-in-time snapshots of the
// full store payload.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/audit"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/store"
	"github.com/meridian-pos/meridian-pos/internal/store/cache"
)

// DefaultMaxBackups bounds the retained set when no policy is configured.
const DefaultMaxBackups = 30

// Repository is the backups collection binding.
type Repository interface {
	Insert(ctx context.Context, b store.Backup) error
	Get(ctx context.Context, ts time.Time) (store.Backup, error)
	// List returns backups newest-first, optionally filtered by type.
	List(ctx context.Context, backupType string) ([]store.Backup, error)
	// TimestampsAsc returns all backup timestamps, oldest first.
	TimestampsAsc(ctx context.Context) ([]time.Time, error)
	Delete(ctx context.Context, ts time.Time) error
	Count(ctx context.Context) (int, error)
}

// Recorder appends audit entries.
type Recorder interface {
	Record(ctx context.Context, action string, details interface{})
}

// Metrics counts created backups. *observability.Metrics satisfies it.
type Metrics interface {
	BackupCreated(backupType string)
}

// Manager owns snapshot creation, rotation and restore.
type Manager struct {
	repo       Repository
	system     store.SystemRepository
	queries    *cache.Cache
	recorder   Recorder
	metrics    Metrics
	logger     *slog.Logger
	maxBackups int
	now        func() time.Time
}

// Config collects Manager dependencies.
type Config struct {
	Repository Repository
	System     store.SystemRepository
	Cache      *cache.Cache
	Recorder   Recorder
	Metrics    Metrics
	Logger     *slog.Logger
	MaxBackups int
}

// NewManager constructs a Manager.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBackups := cfg.MaxBackups
	if maxBackups <= 0 {
		maxBackups = DefaultMaxBackups
	}
	return &Manager{
		repo:       cfg.Repository,
		system:     cfg.System,
		queries:    cfg.Cache,
		recorder:   cfg.Recorder,
		metrics:    cfg.Metrics,
		logger:     logger,
		maxBackups: maxBackups,
		now:        time.Now,
	}
}

// Create stores a snapshot tagged with backupType and returns its timestamp
// key. A nil data pointer snapshots the current full store payload; callers
// pass their own payload for partial or archival snapshots. After insertion
// the retention policy evicts the oldest backups beyond the configured bound.
func (m *Manager) Create(ctx context.Context, backupType string, data *store.SystemData) (time.Time, error) {
	payload := store.SystemData{}
	if data != nil {
		payload = *data
	} else {
		loaded, err := m.system.Load(ctx)
		if err != nil {
			return time.Time{}, fmt.Errorf("backup: export current state: %w", err)
		}
		payload = loaded
	}

	ts := m.now().UTC()
	b := store.Backup{
		Timestamp:     ts,
		Type:          backupType,
		Data:          payload,
		SchemaVersion: db.SchemaVersion,
	}
	for {
		err := m.repo.Insert(ctx, b)
		if err == nil {
			break
		}
		// Two snapshots in the same instant collide on the timestamp key.
		if db.IsUniqueViolation(err) {
			b.Timestamp = b.Timestamp.Add(time.Millisecond)
			continue
		}
		return time.Time{}, fmt.Errorf("backup: insert: %w", err)
	}

	if err := m.enforceRetention(ctx); err != nil {
		m.logger.Warn("backup: retention", slog.Any("error", err))
	}

	if m.metrics != nil {
		m.metrics.BackupCreated(backupType)
	}
	if m.recorder != nil {
		m.recorder.Record(ctx, audit.ActionBackupCreate, audit.BackupDetails{
			Type:      backupType,
			Timestamp: b.Timestamp,
			Products:  len(payload.Products),
			Sales:     len(payload.Sales),
			Settings:  len(payload.Settings),
		})
	}
	return b.Timestamp, nil
}

func (m *Manager) enforceRetention(ctx context.Context) error {
	count, err := m.repo.Count(ctx)
	if err != nil {
		return err
	}
	if count <= m.maxBackups {
		return nil
	}
	timestamps, err := m.repo.TimestampsAsc(ctx)
	if err != nil {
		return err
	}
	excess := len(timestamps) - m.maxBackups
	for _, ts := range timestamps[:excess] {
		if err := m.repo.Delete(ctx, ts); err != nil {
			return err
		}
	}
	return nil
}

// Restore overwrites the structured store with the payload of the backup at
// ts. A pre_restore safety snapshot of the current state is taken first, so
// a restore is always recoverable.
func (m *Manager) Restore(ctx context.Context, ts time.Time) error {
	b, err := m.repo.Get(ctx, ts)
	if err != nil {
		return err
	}

	safetyTS, err := m.Create(ctx, store.BackupPreRestore, nil)
	if err != nil {
		return fmt.Errorf("backup: pre-restore snapshot: %w", err)
	}

	if err := m.system.Replace(ctx, b.Data); err != nil {
		return fmt.Errorf("backup: restore %s: %w", ts.Format(time.RFC3339Nano), err)
	}
	// Every cached read predates the replaced state now.
	if m.queries != nil {
		m.queries.Clear()
	}

	if m.recorder != nil {
		m.recorder.Record(ctx, audit.ActionBackupRestore, audit.RestoreDetails{
			Timestamp:       b.Timestamp,
			SafetyTimestamp: safetyTS,
			SchemaVersion:   b.SchemaVersion,
		})
	}
	return nil
}

// List returns backups newest-first, optionally filtered by type tag.
func (m *Manager) List(ctx context.Context, backupType string) ([]store.Backup, error) {
	return m.repo.List(ctx, backupType)
}
