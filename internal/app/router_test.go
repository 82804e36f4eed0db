package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/shared"
	"github.com/meridian-pos/meridian-pos/internal/store"
	storehttp "github.com/meridian-pos/meridian-pos/internal/store/http"
	"github.com/meridian-pos/meridian-pos/internal/store/storetest"
)

// identityRecorder captures the context identity each audit call carried.
type identityRecorder struct {
	identities []shared.Identity
}

func (r *identityRecorder) Record(ctx context.Context, action string, details interface{}) {
	r.identities = append(r.identities, shared.IdentityFromContext(ctx))
}

func newTestRouter(t *testing.T, recorder *identityRecorder) http.Handler {
	t.Helper()
	products := storetest.NewProducts()
	sales := storetest.NewSales()
	settings := storetest.NewSettings()
	service := store.NewService(store.ServiceConfig{
		Products: products,
		Sales:    sales,
		Settings: settings,
		System:   storetest.NewSystem(products, sales, settings),
		Recorder: recorder,
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(RouterParams{
		Logger:       logger,
		Config:       &Config{AppEnv: "production"},
		StoreHandler: storehttp.NewHandler(logger, service, nil, nil, nil),
	})
}

func TestHealthzReportsOK(t *testing.T) {
	router := newTestRouter(t, &identityRecorder{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, false, body["degraded"])
}

func TestIdentityHeadersReachAuditContext(t *testing.T) {
	recorder := &identityRecorder{}
	router := newTestRouter(t, recorder)

	payload := []byte(`{"name":"Milk","stock":2}`)
	req := httptest.NewRequest(http.MethodPost, "/products", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-User-Id", "u42")
	req.Header.Set("X-User-Name", "Amina")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Len(t, recorder.identities, 1)
	require.Equal(t, "u42", recorder.identities[0].UserID)
	require.Equal(t, "Amina", recorder.identities[0].UserName)
}

func TestMissingIdentityFallsBackToSystem(t *testing.T) {
	recorder := &identityRecorder{}
	router := newTestRouter(t, recorder)

	req := httptest.NewRequest(http.MethodPost, "/products", bytes.NewReader([]byte(`{"name":"Eggs"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Len(t, recorder.identities, 1)
	require.Equal(t, shared.SystemIdentity, recorder.identities[0])
}
