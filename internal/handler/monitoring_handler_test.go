package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photoquota/internal/auth"
	"photoquota/internal/domain"
)

func newMonitoringRouter(monitor *fakeMonitor) chi.Router {
	h := NewMonitoringHandler(monitor)

	r := chi.NewRouter()
	r.Use(RequireAdmin(fakeAdmins{"admin@example.com": true}))
	r.Get("/admin/monitoring/dashboard", h.Dashboard)
	r.Post("/admin/monitoring/start", h.Start)
	r.Post("/admin/monitoring/stop", h.Stop)
	r.Post("/admin/monitoring/alerts/{alertID}/resolve", h.ResolveAlert)
	return r
}

func adminRequest(method, target, email string) *http.Request {
	return asUser(httptest.NewRequest(method, target, nil), "u-1", email)
}

func TestRequireAdmin(t *testing.T) {
	r := newMonitoringRouter(&fakeMonitor{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, adminRequest(http.MethodGet, "/admin/monitoring/dashboard", "someone@example.com"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/monitoring/dashboard", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	spoofed := httptest.NewRequest(http.MethodGet, "/admin/monitoring/dashboard", nil)
	spoofed.Header.Set(auth.HeaderUserID, "u-1")
	spoofed.Header.Set(auth.HeaderUserEmail, "admin@example.com")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, spoofed)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, adminRequest(http.MethodGet, "/admin/monitoring/dashboard", "admin@example.com"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMonitoringStartStop(t *testing.T) {
	monitor := &fakeMonitor{}
	r := newMonitoringRouter(monitor)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, adminRequest(http.MethodPost, "/admin/monitoring/start", "admin@example.com"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"running":true,"changed":true}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, adminRequest(http.MethodPost, "/admin/monitoring/start", "admin@example.com"))
	assert.JSONEq(t, `{"running":true,"changed":false}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, adminRequest(http.MethodGet, "/admin/monitoring/dashboard", "admin@example.com"))
	var dashboard domain.DashboardData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dashboard))
	assert.True(t, dashboard.Running)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, adminRequest(http.MethodPost, "/admin/monitoring/stop", "admin@example.com"))
	assert.JSONEq(t, `{"running":false,"changed":true}`, rec.Body.String())
}

func TestResolveAlert(t *testing.T) {
	known := uuid.New()
	monitor := &fakeMonitor{alerts: map[uuid.UUID]bool{known: true}}
	r := newMonitoringRouter(monitor)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, adminRequest(http.MethodPost, "/admin/monitoring/alerts/"+known.String()+"/resolve", "admin@example.com"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []uuid.UUID{known}, monitor.resolved)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, adminRequest(http.MethodPost, "/admin/monitoring/alerts/"+uuid.NewString()+"/resolve", "admin@example.com"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, adminRequest(http.MethodPost, "/admin/monitoring/alerts/not-a-uuid/resolve", "admin@example.com"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	ok := PingFunc(func(ctx context.Context) error { return nil })
	down := PingFunc(func(ctx context.Context) error { return context.DeadlineExceeded })

	rec := httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"database": ok, "redis": ok}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"database": ok, "redis": down}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}
