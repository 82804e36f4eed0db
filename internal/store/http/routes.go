package storehttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.ListProducts)
		r.Post("/", h.AddProduct)
		r.Post("/bulk", h.BulkAddProducts)
		r.Get("/{id}", h.GetProduct)
		r.Put("/{id}", h.UpdateProduct)
		r.Delete("/{id}", h.DeleteProduct)
	})

	r.Route("/sales", func(r chi.Router) {
		r.Get("/", h.ListSales)
		r.Post("/", h.AddSale)
		r.Post("/bulk", h.BulkAddSales)
		r.Get("/{id}", h.GetSale)
		r.Put("/{id}", h.UpdateSale)
		r.Delete("/{id}", h.DeleteSale)
	})

	r.Route("/settings", func(r chi.Router) {
		r.Get("/", h.ListSettings)
		r.Get("/{key}", h.GetSetting)
		r.Put("/{key}", h.SetSetting)
		r.Delete("/{key}", h.DeleteSetting)
	})

	r.Route("/system", func(r chi.Router) {
		r.Get("/data", h.GetSystemData)
		r.Put("/data", h.SaveSystemData)
		r.Get("/export", h.Export)
		r.Group(func(r chi.Router) {
			// Import replaces the whole store; keep it hard to hammer.
			r.Use(httprate.LimitByIP(2, time.Minute))
			r.Post("/import", h.Import)
		})
		r.Post("/sync", h.Sync)
		r.Post("/migrate", h.RunMigration)
		r.Post("/migrate/finalize", h.FinalizeMigration)
	})

	r.Route("/backups", func(r chi.Router) {
		r.Get("/", h.ListBackups)
		r.Post("/", h.CreateBackup)
		r.Post("/{ts}/restore", h.RestoreBackup)
	})
}

// Healthz reports liveness and whether the facade is degraded.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok", "degraded": h.service.Degraded()}
	code := http.StatusOK
	if h.service.Degraded() {
		status["status"] = "degraded"
	}
	httpx.JSON(w, code, status)
}
