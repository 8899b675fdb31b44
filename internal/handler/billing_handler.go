package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"photoquota/internal/auth"
	"photoquota/internal/domain"
)

const defaultHistoryLimit = 50

type SubscriptionLister interface {
	ListByUser(ctx context.Context, userID string) ([]domain.StorageSubscription, error)
}

type BillingHistoryLister interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.BillingHistoryEntry, error)
}

type UnitSizer interface {
	UnitSizeGB() int64
}

// BillingHandler exposes a user's storage subscriptions and charges.
type BillingHandler struct {
	subscriptions SubscriptionLister
	history       BillingHistoryLister
	units         UnitSizer
}

func NewBillingHandler(subscriptions SubscriptionLister, history BillingHistoryLister, units UnitSizer) *BillingHandler {
	return &BillingHandler{
		subscriptions: subscriptions,
		history:       history,
		units:         units,
	}
}

type BillingOverview struct {
	UnitSizeGB    int64                        `json:"unit_size_gb"`
	Subscriptions []domain.StorageSubscription `json:"subscriptions"`
	History       []domain.BillingHistoryEntry `json:"history"`
}

func (h *BillingHandler) GetBillingOverview(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	h.writeOverview(w, r, userID)
}

func (h *BillingHandler) AdminGetUserBilling(w http.ResponseWriter, r *http.Request) {
	h.writeOverview(w, r, chi.URLParam(r, "userID"))
}

func (h *BillingHandler) writeOverview(w http.ResponseWriter, r *http.Request, userID string) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	subs, err := h.subscriptions.ListByUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	history, err := h.history.ListByUser(r.Context(), userID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if subs == nil {
		subs = []domain.StorageSubscription{}
	}
	if history == nil {
		history = []domain.BillingHistoryEntry{}
	}

	writeJSON(w, http.StatusOK, BillingOverview{
		UnitSizeGB:    h.units.UnitSizeGB(),
		Subscriptions: subs,
		History:       history,
	})
}
