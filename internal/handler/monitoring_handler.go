package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"photoquota/internal/auth"
	"photoquota/internal/domain"
)

type MonitoringController interface {
	StartMonitoring() bool
	StopMonitoring(ctx context.Context) bool
	GetDashboardData() domain.DashboardData
	ResolveAlert(id uuid.UUID) error
}

type AdminChecker interface {
	IsAdmin(email string) bool
}

type MonitoringHandler struct {
	monitor MonitoringController
	stopTTL time.Duration
}

func NewMonitoringHandler(monitor MonitoringController) *MonitoringHandler {
	return &MonitoringHandler{monitor: monitor, stopTTL: 30 * time.Second}
}

type monitoringStateResponse struct {
	Running bool `json:"running"`
	Changed bool `json:"changed"`
}

func (h *MonitoringHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.GetDashboardData())
}

func (h *MonitoringHandler) Start(w http.ResponseWriter, r *http.Request) {
	changed := h.monitor.StartMonitoring()
	writeJSON(w, http.StatusOK, monitoringStateResponse{Running: true, Changed: changed})
}

func (h *MonitoringHandler) Stop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.stopTTL)
	defer cancel()

	changed := h.monitor.StopMonitoring(ctx)
	writeJSON(w, http.StatusOK, monitoringStateResponse{Running: false, Changed: changed})
}

func (h *MonitoringHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "alertID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}

	if err := h.monitor.ResolveAlert(id); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RequireAdmin allows only identities on the administrative list.
func RequireAdmin(admins AdminChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := auth.Identify(r)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if !admins.IsAdmin(user.Email) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
