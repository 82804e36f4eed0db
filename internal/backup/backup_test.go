package backup

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/store"
	"github.com/meridian-pos/meridian-pos/internal/store/cache"
)

type memoryRepo struct {
	backups map[time.Time]store.Backup
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{backups: make(map[time.Time]store.Backup)}
}

func (r *memoryRepo) Insert(ctx context.Context, b store.Backup) error {
	r.backups[b.Timestamp] = b
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, ts time.Time) (store.Backup, error) {
	b, ok := r.backups[ts]
	if !ok {
		return store.Backup{}, store.ErrNotFound
	}
	return b, nil
}

func (r *memoryRepo) List(ctx context.Context, backupType string) ([]store.Backup, error) {
	var out []store.Backup
	for _, b := range r.backups {
		if backupType != "" && b.Type != backupType {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (r *memoryRepo) TimestampsAsc(ctx context.Context) ([]time.Time, error) {
	var out []time.Time
	for ts := range r.backups {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (r *memoryRepo) Delete(ctx context.Context, ts time.Time) error {
	if _, ok := r.backups[ts]; !ok {
		return store.ErrNotFound
	}
	delete(r.backups, ts)
	return nil
}

func (r *memoryRepo) Count(ctx context.Context) (int, error) {
	return len(r.backups), nil
}

type memorySystem struct {
	data store.SystemData
}

func (s *memorySystem) Load(ctx context.Context) (store.SystemData, error) {
	return s.data, nil
}

func (s *memorySystem) Replace(ctx context.Context, data store.SystemData) error {
	s.data = data
	return nil
}

func (s *memorySystem) Counts(ctx context.Context) (store.Info, error) {
	return store.Info{
		Products: len(s.data.Products),
		Sales:    len(s.data.Sales),
		Settings: len(s.data.Settings),
	}, nil
}

type recordedAction struct {
	action  string
	details interface{}
}

type memoryRecorder struct {
	actions []recordedAction
}

func (r *memoryRecorder) Record(ctx context.Context, action string, details interface{}) {
	r.actions = append(r.actions, recordedAction{action: action, details: details})
}

func newManager(t *testing.T, repo Repository, sys store.SystemRepository, maxBackups int) (*Manager, *memoryRecorder, *time.Time) {
	t.Helper()
	rec := &memoryRecorder{}
	m := NewManager(Config{Repository: repo, System: sys, Recorder: rec, MaxBackups: maxBackups})
	now := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, rec, &now
}

func TestCreateSnapshotsCurrentStateWhenDataOmitted(t *testing.T) {
	repo := newMemoryRepo()
	sys := &memorySystem{data: store.SystemData{
		Products: []store.Product{{ID: "p-1", Stock: 4}},
		Sales:    []store.Sale{},
		Settings: []store.Setting{},
	}}
	m, rec, _ := newManager(t, repo, sys, 0)

	ts, err := m.Create(context.Background(), store.BackupManual, nil)
	require.NoError(t, err)

	b, err := repo.Get(context.Background(), ts)
	require.NoError(t, err)
	require.Equal(t, store.BackupManual, b.Type)
	require.Len(t, b.Data.Products, 1)
	require.Len(t, rec.actions, 1)
}

func TestRetentionKeepsNewest(t *testing.T) {
	repo := newMemoryRepo()
	sys := &memorySystem{}
	maxBackups := 30
	m, _, now := newManager(t, repo, sys, maxBackups)

	var all []time.Time
	for i := 0; i < maxBackups+5; i++ {
		ts, err := m.Create(context.Background(), store.BackupAuto, &store.SystemData{})
		require.NoError(t, err)
		all = append(all, ts)
		*now = now.Add(time.Minute)
	}

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, maxBackups, count)

	// The five oldest are gone; the newest maxBackups survive.
	for _, ts := range all[:5] {
		_, err := repo.Get(context.Background(), ts)
		require.ErrorIs(t, err, store.ErrNotFound)
	}
	for _, ts := range all[5:] {
		_, err := repo.Get(context.Background(), ts)
		require.NoError(t, err)
	}
}

func TestRestoreCreatesSafetySnapshotFirst(t *testing.T) {
	repo := newMemoryRepo()
	sys := &memorySystem{data: store.SystemData{Products: []store.Product{{ID: "current"}}}}
	m, rec, now := newManager(t, repo, sys, 0)

	snapshot := store.SystemData{Products: []store.Product{{ID: "old"}}}
	ts, err := m.Create(context.Background(), store.BackupManual, &snapshot)
	require.NoError(t, err)
	*now = now.Add(time.Hour)

	require.NoError(t, m.Restore(context.Background(), ts))

	// Live data replaced wholesale.
	require.Equal(t, "old", sys.data.Products[0].ID)

	// The pre_restore snapshot captured the pre-restore state.
	pre, err := repo.List(context.Background(), store.BackupPreRestore)
	require.NoError(t, err)
	require.Len(t, pre, 1)
	require.Equal(t, "current", pre[0].Data.Products[0].ID)

	last := rec.actions[len(rec.actions)-1]
	require.Equal(t, "backup_restore", last.action)
}

func TestRestoreDropsCachedReads(t *testing.T) {
	repo := newMemoryRepo()
	sys := &memorySystem{data: store.SystemData{Products: []store.Product{{ID: "p-1", Name: "current"}}}}
	queries := cache.New()
	rec := &memoryRecorder{}
	m := NewManager(Config{Repository: repo, System: sys, Cache: queries, Recorder: rec})
	m.now = func() time.Time { return time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	snapshot := store.SystemData{Products: []store.Product{{ID: "p-1", Name: "restored"}}}
	ts, err := m.Create(ctx, store.BackupManual, &snapshot)
	require.NoError(t, err)

	nameLoader := func(context.Context) (interface{}, error) {
		return sys.data.Products[0].Name, nil
	}
	warm, err := queries.GetOrFetch(ctx, "products:get:p-1", time.Minute, nameLoader)
	require.NoError(t, err)
	require.Equal(t, "current", warm)

	require.NoError(t, m.Restore(ctx, ts))

	// The warm entry is gone; the next read reloads from the restored state.
	after, err := queries.GetOrFetch(ctx, "products:get:p-1", time.Minute, nameLoader)
	require.NoError(t, err)
	require.Equal(t, "restored", after)
}

func TestRestoreTwiceIsRecoverable(t *testing.T) {
	repo := newMemoryRepo()
	sys := &memorySystem{data: store.SystemData{Products: []store.Product{{ID: "v2"}}}}
	m, _, now := newManager(t, repo, sys, 0)

	v1 := store.SystemData{Products: []store.Product{{ID: "v1"}}}
	ts, err := m.Create(context.Background(), store.BackupManual, &v1)
	require.NoError(t, err)

	*now = now.Add(time.Hour)
	require.NoError(t, m.Restore(context.Background(), ts))
	*now = now.Add(time.Hour)
	require.NoError(t, m.Restore(context.Background(), ts))

	// Every restore left behind a pre_restore snapshot.
	pre, err := repo.List(context.Background(), store.BackupPreRestore)
	require.NoError(t, err)
	require.Len(t, pre, 2)
}

func TestRestoreMissingBackup(t *testing.T) {
	repo := newMemoryRepo()
	m, _, _ := newManager(t, repo, &memorySystem{}, 0)

	err := m.Restore(context.Background(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListFiltersByType(t *testing.T) {
	repo := newMemoryRepo()
	m, _, now := newManager(t, repo, &memorySystem{}, 0)

	_, err := m.Create(context.Background(), store.BackupManual, &store.SystemData{})
	require.NoError(t, err)
	*now = now.Add(time.Minute)
	_, err = m.Create(context.Background(), store.BackupArchive, &store.SystemData{})
	require.NoError(t, err)

	archives, err := m.List(context.Background(), store.BackupArchive)
	require.NoError(t, err)
	require.Len(t, archives, 1)

	all, err := m.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.True(t, all[0].Timestamp.After(all[1].Timestamp))
}
