package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

type memoryRepo struct {
	entries   []Entry
	nextID    int64
	appendErr error
}

func (r *memoryRepo) Append(ctx context.Context, e Entry) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	r.nextID++
	e.ID = r.nextID
	r.entries = append(r.entries, e)
	return nil
}

func (r *memoryRepo) Query(ctx context.Context, filters Filters) ([]Entry, error) {
	var out []Entry
	for _, e := range r.entries {
		if filters.Action != "" && e.Action != filters.Action {
			continue
		}
		if filters.UserID != "" && e.UserID != filters.UserID {
			continue
		}
		if !filters.Start.IsZero() && e.At.Before(filters.Start) {
			continue
		}
		if !filters.End.IsZero() && e.At.After(filters.End) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

func (r *memoryRepo) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	var kept []Entry
	pruned := 0
	for _, e := range r.entries {
		if e.At.Before(olderThan) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return pruned, nil
}

func TestRecordAttachesIdentity(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(repo, nil)

	ctx := shared.ContextWithIdentity(context.Background(), shared.Identity{UserID: "u-7", UserName: "Ama"})
	svc.Record(ctx, ActionAdd, MutationDetails{Collection: "products", Key: "p-1"})

	require.Len(t, repo.entries, 1)
	entry := repo.entries[0]
	require.Equal(t, ActionAdd, entry.Action)
	require.Equal(t, "u-7", entry.UserID)
	require.Equal(t, "Ama", entry.UserName)

	var details MutationDetails
	require.NoError(t, json.Unmarshal(entry.Details, &details))
	require.Equal(t, "p-1", details.Key)
}

func TestRecordDefaultsToSystemIdentity(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(repo, nil)

	svc.Record(context.Background(), ActionCleanup, CleanupDetails{AuditPruned: 3})

	require.Len(t, repo.entries, 1)
	require.Equal(t, "system", repo.entries[0].UserID)
	require.Equal(t, "unknown", repo.entries[0].UserName)
}

func TestRecordSwallowsAppendFailure(t *testing.T) {
	repo := &memoryRepo{appendErr: errors.New("disk full")}
	svc := NewService(repo, nil)

	// Must not panic or surface the error.
	svc.Record(context.Background(), ActionDelete, MutationDetails{Collection: "sales", Key: "s-1"})
	require.Empty(t, repo.entries)
}

func TestQueryFiltersAndLimit(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(repo, nil)
	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	ctxA := shared.ContextWithIdentity(context.Background(), shared.Identity{UserID: "a", UserName: "A"})
	ctxB := shared.ContextWithIdentity(context.Background(), shared.Identity{UserID: "b", UserName: "B"})

	svc.Record(ctxA, ActionAdd, MutationDetails{Collection: "products", Key: "1"})
	svc.now = func() time.Time { return base.Add(time.Hour) }
	svc.Record(ctxB, ActionDelete, MutationDetails{Collection: "products", Key: "1"})
	svc.now = func() time.Time { return base.Add(2 * time.Hour) }
	svc.Record(ctxA, ActionAdd, MutationDetails{Collection: "sales", Key: "2"})

	got, err := svc.Query(context.Background(), Filters{Action: ActionAdd})
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Newest first.
	require.True(t, got[0].At.After(got[1].At))

	got, err = svc.Query(context.Background(), Filters{UserID: "b"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	// Inclusive bounds.
	got, err = svc.Query(context.Background(), Filters{Start: base.Add(time.Hour), End: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = svc.Query(context.Background(), Filters{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, base.Add(2*time.Hour), got[0].At)
}

func TestPrune(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(repo, nil)
	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	svc.now = func() time.Time { return base }
	svc.Record(context.Background(), ActionAdd, nil)
	svc.now = func() time.Time { return base.AddDate(0, 0, 100) }
	svc.Record(context.Background(), ActionAdd, nil)

	pruned, err := svc.Prune(context.Background(), base.AddDate(0, 0, 10))
	require.NoError(t, err)
	require.Equal(t, 1, pruned)
	require.Len(t, repo.entries, 1)
}
