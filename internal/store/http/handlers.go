// Package storehttp exposes the persistence facade over HTTP.
package storehttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
	"github.com/meridian-pos/meridian-pos/internal/store"
	"github.com/meridian-pos/meridian-pos/jobs"
)

// Syncer is the maintenance surface the sync endpoint needs.
type Syncer interface {
	Sync(ctx context.Context) error
	QuickSync(ctx context.Context) error
}

// BackupManager is the backup surface for the backup endpoints.
type BackupManager interface {
	Create(ctx context.Context, backupType string, data *store.SystemData) (time.Time, error)
	Restore(ctx context.Context, ts time.Time) error
	List(ctx context.Context, backupType string) ([]store.Backup, error)
}

// Migrator is the migration surface for the migration endpoints.
type Migrator interface {
	Run(ctx context.Context) error
	Finalize(ctx context.Context) error
}

// Enqueuer hands a sync off to the background queue instead of running it
// in the request path; *jobs.Client satisfies it.
type Enqueuer interface {
	EnqueueSync(ctx context.Context, payload jobs.SyncPayload) (*asynq.TaskInfo, error)
	EnqueueQuickSync(ctx context.Context, payload jobs.SyncPayload) (*asynq.TaskInfo, error)
}

type Handler struct {
	logger   *slog.Logger
	service  *store.Service
	backups  BackupManager
	syncer   Syncer
	migrator Migrator
	enqueuer Enqueuer
}

func NewHandler(
	logger *slog.Logger,
	service *store.Service,
	backups BackupManager,
	syncer Syncer,
	migrator Migrator,
) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		backups:  backups,
		syncer:   syncer,
		migrator: migrator,
	}
}

// WithEnqueuer enables async sync handling via the job queue.
func (h *Handler) WithEnqueuer(enqueuer Enqueuer) *Handler {
	h.enqueuer = enqueuer
	return h
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	filter := store.ProductFilter{
		Category: r.URL.Query().Get("category"),
		Limit:    queryInt(r, "limit"),
	}
	filter.CreatedFrom = queryTime(r, "created_from")
	filter.CreatedTo = queryTime(r, "created_to")

	products, err := h.service.ListProducts(r.Context(), filter)
	if err != nil {
		h.logger.Error("list products failed", "error", err)
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, products)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) AddProduct(w http.ResponseWriter, r *http.Request) {
	var product store.Product
	if err := httpx.DecodeJSON(r, &product); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", err.Error())
		return
	}
	added, err := h.service.AddProduct(r.Context(), product)
	if err != nil {
		h.logger.Error("add product failed", "error", err)
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, added)
}

func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var product store.Product
	if err := httpx.DecodeJSON(r, &product); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", err.Error())
		return
	}
	product.ID = chi.URLParam(r, "id")
	if err := h.service.UpdateProduct(r.Context(), product); err != nil {
		h.logger.Error("update product failed", "error", err, "id", product.ID)
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) BulkAddProducts(w http.ResponseWriter, r *http.Request) {
	var products []store.Product
	if err := httpx.DecodeJSON(r, &products); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", err.Error())
		return
	}
	if err := h.service.BulkAddProducts(r.Context(), products); err != nil {
		h.logger.Warn("bulk add products", "error", err)
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]int{"inserted": len(products)})
}

func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	filter := store.SaleFilter{
		Attendant: r.URL.Query().Get("attendant"),
		Limit:     queryInt(r, "limit"),
	}
	filter.From = queryTime(r, "from")
	filter.To = queryTime(r, "to")

	sales, err := h.service.ListSales(r.Context(), filter)
	if err != nil {
		h.logger.Error("list sales failed", "error", err)
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sales)
}

func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) AddSale(w http.ResponseWriter, r *http.Request) {
	var sale store.Sale
	if err := httpx.DecodeJSON(r, &sale); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", err.Error())
		return
	}
	added, err := h.service.AddSale(r.Context(), sale)
	if err != nil {
		h.logger.Error("add sale failed", "error", err)
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, added)
}

func (h *Handler) UpdateSale(w http.ResponseWriter, r *http.Request) {
	var sale store.Sale
	if err := httpx.DecodeJSON(r, &sale); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", err.Error())
		return
	}
	sale.ID = chi.URLParam(r, "id")
	if err := h.service.UpdateSale(r.Context(), sale); err != nil {
		h.logger.Error("update sale failed", "error", err, "id", sale.ID)
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) DeleteSale(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteSale(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) BulkAddSales(w http.ResponseWriter, r *http.Request) {
	var sales []store.Sale
	if err := httpx.DecodeJSON(r, &sales); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", err.Error())
		return
	}
	if err := h.service.BulkAddSales(r.Context(), sales); err != nil {
		h.logger.Warn("bulk add sales", "error", err)
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]int{"inserted": len(sales)})
}

func (h *Handler) ListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.ListSettings(r.Context())
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, settings)
}

func (h *Handler) GetSetting(w http.ResponseWriter, r *http.Request) {
	setting, err := h.service.GetSetting(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, setting)
}

func (h *Handler) SetSetting(w http.ResponseWriter, r *http.Request) {
	var setting store.Setting
	if err := httpx.DecodeJSON(r, &setting); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", err.Error())
		return
	}
	setting.Key = chi.URLParam(r, "key")
	if err := h.service.SetSetting(r.Context(), setting); err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, setting)
}

func (h *Handler) DeleteSetting(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteSetting(r.Context(), chi.URLParam(r, "key")); err != nil {
		httpx.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetSystemData(w http.ResponseWriter, r *http.Request) {
	data, err := h.service.GetSystemData(r.Context())
	if err != nil {
		h.logger.Error("get system data failed", "error", err)
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, data)
}

func (h *Handler) SaveSystemData(w http.ResponseWriter, r *http.Request) {
	var data store.SystemData
	if err := httpx.DecodeJSON(r, &data); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", err.Error())
		return
	}
	if err := h.service.SaveSystemData(r.Context(), data); err != nil {
		h.logger.Error("save system data failed", "error", err)
		httpx.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	payload, err := h.service.Export(r.Context())
	if err != nil {
		h.logger.Error("export failed", "error", err)
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payload)
}

func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	var payload store.ExportPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", err.Error())
		return
	}
	if err := h.service.Import(r.Context(), payload); err != nil {
		h.logger.Error("import failed", "error", err)
		httpx.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sync triggers a maintenance pass. mode=quick takes a backup only; the
// default full mode runs the whole pass.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if r.URL.Query().Get("async") == "true" && h.enqueuer != nil {
		h.syncAsync(w, r, mode)
		return
	}
	if h.syncer == nil {
		httpx.Error(w, store.ErrUnavailable)
		return
	}
	var err error
	if mode == "quick" {
		err = h.syncer.QuickSync(r.Context())
	} else {
		mode = "full"
		err = h.syncer.Sync(r.Context())
	}
	if err != nil {
		h.logger.Error("sync failed", "error", err, "mode", mode)
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"mode": mode})
}

func (h *Handler) syncAsync(w http.ResponseWriter, r *http.Request, mode string) {
	payload := jobs.SyncPayload{Reason: r.URL.Query().Get("reason")}
	var err error
	if mode == "quick" {
		_, err = h.enqueuer.EnqueueQuickSync(r.Context(), payload)
	} else {
		mode = "full"
		_, err = h.enqueuer.EnqueueSync(r.Context(), payload)
	}
	if err != nil {
		h.logger.Error("enqueue sync failed", "error", err, "mode", mode)
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"mode": mode, "queued": "true"})
}

func (h *Handler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	if h.service.Degraded() {
		httpx.Error(w, store.ErrUnavailable)
		return
	}
	ts, err := h.backups.Create(r.Context(), store.BackupManual, nil)
	if err != nil {
		h.logger.Error("create backup failed", "error", err)
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]time.Time{"timestamp": ts})
}

func (h *Handler) ListBackups(w http.ResponseWriter, r *http.Request) {
	if h.service.Degraded() {
		httpx.Error(w, store.ErrUnavailable)
		return
	}
	backups, err := h.backups.List(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		h.logger.Error("list backups failed", "error", err)
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, backups)
}

func (h *Handler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	if h.service.Degraded() {
		httpx.Error(w, store.ErrUnavailable)
		return
	}
	ts, err := time.Parse(time.RFC3339Nano, chi.URLParam(r, "ts"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Timestamp", err.Error())
		return
	}
	if err := h.backups.Restore(r.Context(), ts); err != nil {
		h.logger.Error("restore backup failed", "error", err, "ts", ts)
		httpx.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunMigration merges the legacy flat blob into the live collections.
func (h *Handler) RunMigration(w http.ResponseWriter, r *http.Request) {
	if h.migrator == nil {
		httpx.Error(w, store.ErrUnavailable)
		return
	}
	if err := h.migrator.Run(r.Context()); err != nil {
		h.logger.Error("migration failed", "error", err)
		httpx.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FinalizeMigration deletes the legacy blob. Separate endpoint so the
// destructive step stays an explicit human decision.
func (h *Handler) FinalizeMigration(w http.ResponseWriter, r *http.Request) {
	if h.migrator == nil {
		httpx.Error(w, store.ErrUnavailable)
		return
	}
	if err := h.migrator.Finalize(r.Context()); err != nil {
		h.logger.Error("finalize migration failed", "error", err)
		httpx.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, name string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func queryTime(r *http.Request, name string) time.Time {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
