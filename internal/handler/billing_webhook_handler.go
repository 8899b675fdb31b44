package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"photoquota/internal/domain"
)

const (
	webhookBodyLimit = 1024 * 1024

	metadataUserID = "user_id"
	metadataUnits  = "storage_units"
)

type BillingReconciler interface {
	Reconcile(ctx context.Context, event domain.BillingEvent) error
}

// BillingWebhookHandler turns Stripe events into billing events. Malformed
// events are acknowledged and dropped; reconciliation failures answer 500 so
// Stripe redelivers.
type BillingWebhookHandler struct {
	secret     string
	reconciler BillingReconciler
}

type webhookReceivedResponse struct {
	Received bool `json:"received"`
	Dropped  bool `json:"dropped,omitempty"`
}

func NewBillingWebhookHandler(secret string, reconciler BillingReconciler) *BillingWebhookHandler {
	return &BillingWebhookHandler{
		secret:     secret,
		reconciler: reconciler,
	}
}

func (h *BillingWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(h.secret) == "" {
		writeError(w, http.StatusServiceUnavailable, "webhook secret not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		writeError(w, http.StatusBadRequest, "missing Stripe signature")
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid Stripe signature")
		return
	}

	logger := log.With().
		Str("component", "billing_webhook").
		Str("event_id", event.ID).
		Str("type", string(event.Type)).
		Logger()

	billingEvent, err := translateEvent(&event)
	if err != nil {
		logger.Warn().Err(err).Msg("Dropping malformed billing event")
		writeJSON(w, http.StatusOK, webhookReceivedResponse{Received: true, Dropped: true})
		return
	}
	if billingEvent == nil {
		logger.Debug().Msg("Stripe webhook ignored (unhandled type)")
		writeJSON(w, http.StatusOK, webhookReceivedResponse{Received: true})
		return
	}

	if err := h.reconciler.Reconcile(r.Context(), billingEvent); err != nil {
		if errors.Is(err, domain.ErrMalformedEvent) {
			writeJSON(w, http.StatusOK, webhookReceivedResponse{Received: true, Dropped: true})
			return
		}
		logger.Error().Err(err).Msg("Stripe webhook processing failed")
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	writeJSON(w, http.StatusOK, webhookReceivedResponse{Received: true})
}

// stripeInvoice is the subset of a Stripe invoice used for storage billing.
type stripeInvoice struct {
	ID           string            `json:"id"`
	Subscription string            `json:"subscription"`
	AmountPaid   int64             `json:"amount_paid"`
	AmountDue    int64             `json:"amount_due"`
	PeriodStart  int64             `json:"period_start"`
	PeriodEnd    int64             `json:"period_end"`
	Metadata     map[string]string `json:"metadata"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string            `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (inv stripeInvoice) subscriptionID() string {
	if inv.Subscription != "" {
		return inv.Subscription
	}
	return inv.Parent.SubscriptionDetails.Subscription
}

func (inv stripeInvoice) metadata(key string) string {
	if v := strings.TrimSpace(inv.Metadata[key]); v != "" {
		return v
	}
	return strings.TrimSpace(inv.Parent.SubscriptionDetails.Metadata[key])
}

type stripeCheckoutSession struct {
	ID            string            `json:"id"`
	Mode          string            `json:"mode"`
	PaymentIntent string            `json:"payment_intent"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Created       int64             `json:"created"`
	Metadata      map[string]string `json:"metadata"`
}

type stripeSubscription struct {
	ID string `json:"id"`
}

// translateEvent returns nil for event types that carry no entitlement change.
func translateEvent(event *stripelib.Event) (domain.BillingEvent, error) {
	switch event.Type {
	case "invoice.paid":
		var inv stripeInvoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: decode invoice: %v", domain.ErrMalformedEvent, err)
		}
		return domain.PurchaseConfirmed{
			UserID:                 inv.metadata(metadataUserID),
			ExternalPaymentID:      inv.ID,
			ExternalSubscriptionID: inv.subscriptionID(),
			UnitsPurchased:         parseUnits(inv.metadata(metadataUnits)),
			Amount:                 inv.AmountPaid,
			PeriodStart:            unixTime(inv.PeriodStart),
			PeriodEnd:              unixTime(inv.PeriodEnd),
		}, nil

	case "invoice.payment_failed":
		var inv stripeInvoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: decode invoice: %v", domain.ErrMalformedEvent, err)
		}
		return domain.PaymentFailed{
			ExternalPaymentID:      inv.ID,
			ExternalSubscriptionID: inv.subscriptionID(),
			Amount:                 inv.AmountDue,
		}, nil

	case "checkout.session.completed":
		var session stripeCheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: decode checkout session: %v", domain.ErrMalformedEvent, err)
		}
		// Subscription checkouts are granted by their invoice.paid event.
		if session.Mode != "payment" || session.PaymentStatus != "paid" {
			return nil, nil
		}
		paymentID := session.PaymentIntent
		if paymentID == "" {
			paymentID = session.ID
		}
		return domain.PurchaseConfirmed{
			UserID:            strings.TrimSpace(session.Metadata[metadataUserID]),
			ExternalPaymentID: paymentID,
			UnitsPurchased:    parseUnits(session.Metadata[metadataUnits]),
			Amount:            session.AmountTotal,
			PeriodStart:       unixTime(session.Created),
		}, nil

	case "customer.subscription.deleted":
		var sub stripeSubscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: decode subscription: %v", domain.ErrMalformedEvent, err)
		}
		return domain.SubscriptionCancelled{
			ExternalEventID:        event.ID,
			ExternalSubscriptionID: sub.ID,
		}, nil

	default:
		return nil, nil
	}
}

func parseUnits(s string) int64 {
	units, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return units
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
