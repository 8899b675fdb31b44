package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus is driven exclusively by billing-provider events.
type SubscriptionStatus string

const (
	SubscriptionActive          SubscriptionStatus = "active"
	SubscriptionPaymentFailed   SubscriptionStatus = "payment_failed"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// StorageSubscription records a purchase of storage add-on units. Rows are never deleted.
type StorageSubscription struct {
	ID                     uuid.UUID          `json:"id" db:"id"`
	UserID                 string             `json:"user_id" db:"user_id"`
	ExternalSubscriptionID string             `json:"external_subscription_id" db:"external_subscription_id"`
	UnitsPurchased         int64              `json:"units_purchased" db:"units_purchased"`
	MonthlyPrice           int64              `json:"monthly_price" db:"monthly_price"`
	Status                 SubscriptionStatus `json:"status" db:"status"`
	PeriodStart            time.Time          `json:"period_start" db:"period_start"`
	PeriodEnd              time.Time          `json:"period_end" db:"period_end"`
	CreatedAt              time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at" db:"updated_at"`
}

// BillingHistoryEntry is one successful charge. external_payment_id is unique.
type BillingHistoryEntry struct {
	ID                int64     `json:"id" db:"id"`
	UserID            string    `json:"user_id" db:"user_id"`
	ExternalPaymentID string    `json:"external_payment_id" db:"external_payment_id"`
	Amount            int64     `json:"amount" db:"amount"`
	UnitsPurchased    int64     `json:"units_purchased" db:"units_purchased"`
	PeriodStart       time.Time `json:"period_start" db:"period_start"`
	PeriodEnd         time.Time `json:"period_end" db:"period_end"`
	Status            string    `json:"status" db:"status"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// BillingEvent is one of PurchaseConfirmed, PaymentFailed or SubscriptionCancelled.
type BillingEvent interface {
	EventID() string
	Validate() error
	billingEvent()
}

// PurchaseConfirmed is a successful charge for storage units.
// ExternalSubscriptionID is empty for one-off purchases.
type PurchaseConfirmed struct {
	UserID                 string
	ExternalPaymentID      string
	ExternalSubscriptionID string
	UnitsPurchased         int64
	Amount                 int64
	PeriodStart            time.Time
	PeriodEnd              time.Time
}

// PaymentFailed is a failed charge against an existing subscription.
type PaymentFailed struct {
	ExternalPaymentID      string
	ExternalSubscriptionID string
	Amount                 int64
}

// SubscriptionCancelled ends a subscription and releases its units.
type SubscriptionCancelled struct {
	ExternalEventID        string
	ExternalSubscriptionID string
}

func (PurchaseConfirmed) billingEvent()     {}
func (PaymentFailed) billingEvent()         {}
func (SubscriptionCancelled) billingEvent() {}

func (e PurchaseConfirmed) EventID() string { return e.ExternalPaymentID }

func (e PaymentFailed) EventID() string { return e.ExternalPaymentID }

func (e SubscriptionCancelled) EventID() string {
	if e.ExternalEventID != "" {
		return e.ExternalEventID
	}
	return e.ExternalSubscriptionID
}

func (e PurchaseConfirmed) Validate() error {
	switch {
	case strings.TrimSpace(e.UserID) == "":
		return fmt.Errorf("%w: purchase without user id", ErrMalformedEvent)
	case strings.TrimSpace(e.ExternalPaymentID) == "":
		return fmt.Errorf("%w: purchase without payment id", ErrMalformedEvent)
	case e.UnitsPurchased <= 0:
		return fmt.Errorf("%w: purchase of %d units", ErrMalformedEvent, e.UnitsPurchased)
	case e.Amount < 0:
		return fmt.Errorf("%w: negative amount", ErrMalformedEvent)
	case !e.PeriodEnd.IsZero() && e.PeriodEnd.Before(e.PeriodStart):
		return fmt.Errorf("%w: period ends before it starts", ErrMalformedEvent)
	}
	return nil
}

func (e PaymentFailed) Validate() error {
	if strings.TrimSpace(e.ExternalSubscriptionID) == "" {
		return fmt.Errorf("%w: payment failure without subscription id", ErrMalformedEvent)
	}
	return nil
}

func (e SubscriptionCancelled) Validate() error {
	if strings.TrimSpace(e.ExternalSubscriptionID) == "" {
		return fmt.Errorf("%w: cancellation without subscription id", ErrMalformedEvent)
	}
	return nil
}
