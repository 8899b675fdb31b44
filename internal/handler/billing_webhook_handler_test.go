package handler

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"photoquota/internal/domain"
)

const testWebhookSecret = "whsec_test_photoquota"

func signedWebhookRequest(t *testing.T, secret, payload string) *http.Request {
	t.Helper()

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestBillingWebhook_InvoicePaid(t *testing.T) {
	reconciler := &fakeReconciler{}
	h := NewBillingWebhookHandler(testWebhookSecret, reconciler)

	payload := `{"id":"evt_1","object":"event","type":"invoice.paid","data":{"object":{
		"id":"in_123","object":"invoice","amount_paid":999,"period_start":1700000000,"period_end":1702592000,
		"metadata":{},
		"parent":{"subscription_details":{"subscription":"sub_9","metadata":{"user_id":"user-1","storage_units":"2"}}}
	}}}`

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, payload))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, reconciler.events, 1)

	got, ok := reconciler.events[0].(domain.PurchaseConfirmed)
	require.True(t, ok)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "in_123", got.ExternalPaymentID)
	assert.Equal(t, "sub_9", got.ExternalSubscriptionID)
	assert.Equal(t, int64(2), got.UnitsPurchased)
	assert.Equal(t, int64(999), got.Amount)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), got.PeriodStart)
}

func TestBillingWebhook_OneOffCheckout(t *testing.T) {
	reconciler := &fakeReconciler{}
	h := NewBillingWebhookHandler(testWebhookSecret, reconciler)

	payload := `{"id":"evt_2","object":"event","type":"checkout.session.completed","data":{"object":{
		"id":"cs_1","object":"checkout.session","mode":"payment","payment_status":"paid","payment_intent":"pi_1",
		"amount_total":999,"created":1700000000,"metadata":{"user_id":"user-2","storage_units":"1"}
	}}}`

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, payload))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, reconciler.events, 1)
	got := reconciler.events[0].(domain.PurchaseConfirmed)
	assert.Equal(t, "pi_1", got.ExternalPaymentID)
	assert.Empty(t, got.ExternalSubscriptionID)
}

func TestBillingWebhook_SubscriptionDeletedAndPaymentFailed(t *testing.T) {
	reconciler := &fakeReconciler{}
	h := NewBillingWebhookHandler(testWebhookSecret, reconciler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret,
		`{"id":"evt_3","object":"event","type":"customer.subscription.deleted","data":{"object":{"id":"sub_9","object":"subscription"}}}`))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret,
		`{"id":"evt_4","object":"event","type":"invoice.payment_failed","data":{"object":{"id":"in_5","object":"invoice","subscription":"sub_9","amount_due":999}}}`))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, reconciler.events, 2)
	assert.Equal(t, domain.SubscriptionCancelled{ExternalEventID: "evt_3", ExternalSubscriptionID: "sub_9"}, reconciler.events[0])
	assert.Equal(t, domain.PaymentFailed{ExternalPaymentID: "in_5", ExternalSubscriptionID: "sub_9", Amount: 999}, reconciler.events[1])
}

func TestBillingWebhook_MalformedIsAcknowledged(t *testing.T) {
	reconciler := &fakeReconciler{}
	h := NewBillingWebhookHandler(testWebhookSecret, reconciler)

	// No user or unit metadata.
	payload := `{"id":"evt_5","object":"event","type":"invoice.paid","data":{"object":{"id":"in_6","object":"invoice","amount_paid":999}}}`

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, payload))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true,"dropped":true}`, rec.Body.String())
	assert.Empty(t, reconciler.events)
}

func TestBillingWebhook_ProcessingFailureIs500(t *testing.T) {
	reconciler := &fakeReconciler{err: errors.New("database unavailable")}
	h := NewBillingWebhookHandler(testWebhookSecret, reconciler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret,
		`{"id":"evt_6","object":"event","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","object":"subscription"}}}`))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestBillingWebhook_Rejections(t *testing.T) {
	payload := `{"id":"evt_7","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1","object":"invoice"}}}`

	t.Run("wrong secret", func(t *testing.T) {
		h := NewBillingWebhookHandler(testWebhookSecret, &fakeReconciler{})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, signedWebhookRequest(t, "whsec_wrong", payload))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing signature", func(t *testing.T) {
		h := NewBillingWebhookHandler(testWebhookSecret, &fakeReconciler{})
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader([]byte(payload)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("secret not configured", func(t *testing.T) {
		h := NewBillingWebhookHandler("", &fakeReconciler{})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, payload))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestBillingWebhook_UnhandledTypeIgnored(t *testing.T) {
	reconciler := &fakeReconciler{}
	h := NewBillingWebhookHandler(testWebhookSecret, reconciler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret,
		`{"id":"evt_8","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	assert.Empty(t, reconciler.events)
}
