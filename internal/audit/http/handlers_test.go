package audithttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/audit"
)

type memoryRepo struct {
	entries []audit.Entry
}

func (m *memoryRepo) Append(ctx context.Context, e audit.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryRepo) Query(ctx context.Context, filters audit.Filters) ([]audit.Entry, error) {
	var out []audit.Entry
	for _, e := range m.entries {
		if filters.Action != "" && e.Action != filters.Action {
			continue
		}
		if filters.UserID != "" && e.UserID != filters.UserID {
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

func (m *memoryRepo) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	return 0, nil
}

func newTestRouter(repo *memoryRepo) chi.Router {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(logger, audit.NewService(repo, logger))
	r := chi.NewRouter()
	handler.MountRoutes(r)
	return r
}

func TestQueryFiltersByAction(t *testing.T) {
	repo := &memoryRepo{entries: []audit.Entry{
		{Action: "add", UserID: "u1", At: time.Now()},
		{Action: "delete", UserID: "u2", At: time.Now().Add(-time.Minute)},
	}}
	r := newTestRouter(repo)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?action=add", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []audit.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "add", entries[0].Action)
}

func TestQueryRejectsBadTimestamps(t *testing.T) {
	r := newTestRouter(&memoryRepo{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?start=yesterday", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryLimit(t *testing.T) {
	repo := &memoryRepo{}
	now := time.Now()
	for i := 0; i < 5; i++ {
		repo.entries = append(repo.entries, audit.Entry{Action: "add", At: now.Add(time.Duration(i) * time.Second)})
	}
	r := newTestRouter(repo)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []audit.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
}
