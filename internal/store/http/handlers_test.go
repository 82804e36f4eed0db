package storehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/store"
	"github.com/meridian-pos/meridian-pos/internal/store/storetest"
	"github.com/meridian-pos/meridian-pos/jobs"
)

type syncerSpy struct {
	full  int
	quick int
	err   error
}

func (s *syncerSpy) Sync(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	s.full++
	return nil
}

func (s *syncerSpy) QuickSync(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	s.quick++
	return nil
}

type backupManagerSpy struct {
	created  []string
	restored []time.Time
	list     []store.Backup
}

func (b *backupManagerSpy) Create(ctx context.Context, backupType string, data *store.SystemData) (time.Time, error) {
	b.created = append(b.created, backupType)
	return time.Now().UTC(), nil
}

func (b *backupManagerSpy) Restore(ctx context.Context, ts time.Time) error {
	b.restored = append(b.restored, ts)
	return nil
}

func (b *backupManagerSpy) List(ctx context.Context, backupType string) ([]store.Backup, error) {
	return b.list, nil
}

type migratorSpy struct {
	runs      int
	finalized int
}

func (m *migratorSpy) Run(ctx context.Context) error {
	m.runs++
	return nil
}

func (m *migratorSpy) Finalize(ctx context.Context) error {
	m.finalized++
	return nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type routerFixture struct {
	router   chi.Router
	handler  *Handler
	products *storetest.Products
	sales    *storetest.Sales
	syncer   *syncerSpy
	backups  *backupManagerSpy
	migrator *migratorSpy
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	products := storetest.NewProducts()
	sales := storetest.NewSales()
	settings := storetest.NewSettings()
	system := storetest.NewSystem(products, sales, settings)
	service := store.NewService(store.ServiceConfig{
		Products: products,
		Sales:    sales,
		Settings: settings,
		System:   system,
		Recorder: &storetest.Recorder{},
	})
	syncer := &syncerSpy{}
	backups := &backupManagerSpy{}
	migrator := &migratorSpy{}
	handler := NewHandler(newTestLogger(), service, backups, syncer, migrator)
	r := chi.NewRouter()
	handler.MountRoutes(r)
	return &routerFixture{
		router:   r,
		handler:  handler,
		products: products,
		sales:    sales,
		syncer:   syncer,
		backups:  backups,
		migrator: migrator,
	}
}

func (f *routerFixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestProductCRUDOverHTTP(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/products", store.Product{Name: "Sugar", Stock: 3})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created store.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	rec = f.do(t, http.MethodGet, "/products/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	created.Stock = 9
	rec = f.do(t, http.MethodPut, "/products/"+created.ID, created)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(9), f.products.Items[created.ID].Stock)

	rec = f.do(t, http.MethodDelete, "/products/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/products/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddProductConflictReturns409(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/products", store.Product{ID: "p1", Name: "Salt"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/products", store.Product{ID: "p1", Name: "Salt"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestBulkAddPartialFailureReturns207(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/products", store.Product{ID: "p1", Name: "Old"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/products/bulk", []store.Product{
		{ID: "p1", Name: "Dup"},
		{ID: "p2", Name: "Beans"},
	})
	require.Equal(t, http.StatusMultiStatus, rec.Code)

	var bulk store.BulkError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bulk))
	require.Equal(t, []string{"p1"}, bulk.FailedIDs)
	require.Len(t, f.products.Items, 2)
}

func TestListProductsFilters(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/products", store.Product{ID: "p1", Name: "Soap", Category: "household"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = f.do(t, http.MethodPost, "/products", store.Product{ID: "p2", Name: "Bread", Category: "food"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/products?category=food", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed []store.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	require.Equal(t, "p2", listed[0].ID)
}

func TestMalformedBodyReturns400(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/products", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncEndpointModes(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/system/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, f.syncer.full)

	rec = f.do(t, http.MethodPost, "/system/sync?mode=quick", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, f.syncer.quick)
}

type enqueuerSpy struct {
	full  []jobs.SyncPayload
	quick []jobs.SyncPayload
}

func (e *enqueuerSpy) EnqueueSync(ctx context.Context, payload jobs.SyncPayload) (*asynq.TaskInfo, error) {
	e.full = append(e.full, payload)
	return &asynq.TaskInfo{}, nil
}

func (e *enqueuerSpy) EnqueueQuickSync(ctx context.Context, payload jobs.SyncPayload) (*asynq.TaskInfo, error) {
	e.quick = append(e.quick, payload)
	return &asynq.TaskInfo{}, nil
}

func TestSyncAsyncEnqueuesInsteadOfRunning(t *testing.T) {
	f := newRouterFixture(t)
	enqueuer := &enqueuerSpy{}
	f.handler.WithEnqueuer(enqueuer)

	rec := f.do(t, http.MethodPost, "/system/sync?async=true&reason=focus", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, enqueuer.full, 1)
	require.Equal(t, "focus", enqueuer.full[0].Reason)
	require.Zero(t, f.syncer.full)

	rec = f.do(t, http.MethodPost, "/system/sync?async=true&mode=quick", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, enqueuer.quick, 1)
}

func TestExportImportRoundTrip(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/products", store.Product{ID: "p1", Name: "Tea"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/system/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload store.ExportPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Data.Products, 1)

	payload.Data.Products[0].Name = "Imported Tea"
	rec = f.do(t, http.MethodPost, "/system/import", payload)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "Imported Tea", f.products.Items["p1"].Name)

	// The import endpoint rejects payloads without the data triple.
	rec = f.do(t, http.MethodPost, "/system/import", store.ExportPayload{})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestBackupEndpoints(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/backups", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, []string{store.BackupManual}, f.backups.created)

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec = f.do(t, http.MethodPost, "/backups/"+ts.Format(time.RFC3339Nano)+"/restore", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []time.Time{ts}, f.backups.restored)

	rec = f.do(t, http.MethodPost, "/backups/not-a-time/restore", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMigrationEndpoints(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/system/migrate", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, 1, f.migrator.runs)

	rec = f.do(t, http.MethodPost, "/system/migrate/finalize", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, 1, f.migrator.finalized)
}
