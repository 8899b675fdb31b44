package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"photoquota/internal/auth"
	"photoquota/internal/domain"
)

type QuotaInfoProvider interface {
	GetQuotaInfo(ctx context.Context, userID string) (*domain.QuotaInfo, error)
	Recalculate(ctx context.Context, userID string) (*domain.UsageSnapshot, error)
}

type UploadAdmitter interface {
	CanUpload(ctx context.Context, userID string, candidateBytes int64, userEmail string) (*domain.Decision, error)
}

type StorageQuotaHandler struct {
	quotas    QuotaInfoProvider
	admission UploadAdmitter
}

func NewStorageQuotaHandler(quotas QuotaInfoProvider, admission UploadAdmitter) *StorageQuotaHandler {
	return &StorageQuotaHandler{
		quotas:    quotas,
		admission: admission,
	}
}

func (h *StorageQuotaHandler) GetQuotaInfo(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	info, err := h.quotas.GetQuotaInfo(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

type checkUploadRequest struct {
	Bytes int64 `json:"bytes"`
}

// CheckUpload answers 200 when the upload fits and 413 when it does not; both
// carry the decision.
func (h *StorageQuotaHandler) CheckUpload(w http.ResponseWriter, r *http.Request) {
	user, err := auth.Identify(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req checkUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	decision, err := h.admission.CanUpload(r.Context(), user.ID, req.Bytes, user.Email)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusRequestEntityTooLarge
	}
	writeJSON(w, status, decision)
}

func (h *StorageQuotaHandler) AdminGetUserQuota(w http.ResponseWriter, r *http.Request) {
	info, err := h.quotas.GetQuotaInfo(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *StorageQuotaHandler) AdminRecalculate(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.quotas.Recalculate(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}
