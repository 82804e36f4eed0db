// Package audithttp exposes the audit trail query endpoint.
package audithttp

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-pos/meridian-pos/internal/audit"
	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
)

type Handler struct {
	logger  *slog.Logger
	service *audit.Service
}

func NewHandler(logger *slog.Logger, service *audit.Service) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/audit", h.Query)
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	filters := audit.Filters{
		Action: r.URL.Query().Get("action"),
		UserID: r.URL.Query().Get("user_id"),
	}
	if raw := r.URL.Query().Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Start Time", err.Error())
			return
		}
		filters.Start = t
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid End Time", err.Error())
			return
		}
		filters.End = t
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			filters.Limit = v
		}
	}

	entries, err := h.service.Query(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit query failed", "error", err)
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}
