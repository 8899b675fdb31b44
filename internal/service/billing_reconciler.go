package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"photoquota/internal/config"
	"photoquota/internal/domain"
	"photoquota/internal/monitoring"
	"photoquota/internal/repository"
)

const (
	OperationPurchaseConfirmed     = "purchase_confirmed"
	OperationPaymentFailed         = "payment_failed"
	OperationSubscriptionCancelled = "subscription_cancelled"
)

type CartOperationRecorder interface {
	RecordCartOperation(result monitoring.CartOperationResult)
}

// BillingReconciler applies billing provider events to the quota ledger and the
// billing history. It performs no retries: a returned error is expected to make
// the provider redeliver, and every handler is idempotent under redelivery.
type BillingReconciler struct {
	db            *sqlx.DB
	quotas        *repository.StorageQuotaRepository
	subscriptions *repository.SubscriptionRepository
	history       *repository.BillingHistoryRepository
	monitor       CartOperationRecorder
	applied       *expirable.LRU[string, struct{}]
	logger        zerolog.Logger
}

func NewBillingReconciler(
	db *sqlx.DB,
	quotas *repository.StorageQuotaRepository,
	subscriptions *repository.SubscriptionRepository,
	history *repository.BillingHistoryRepository,
	monitor CartOperationRecorder,
	cfg config.BillingConfig,
) *BillingReconciler {
	size := cfg.DedupeCacheSize
	if size <= 0 {
		size = 4096
	}
	ttl := cfg.DedupeCacheTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &BillingReconciler{
		db:            db,
		quotas:        quotas,
		subscriptions: subscriptions,
		history:       history,
		monitor:       monitor,
		applied:       expirable.NewLRU[string, struct{}](size, nil, ttl),
		logger:        log.With().Str("component", "reconciler").Logger(),
	}
}

// Reconcile dispatches event to its handler.
func (r *BillingReconciler) Reconcile(ctx context.Context, event domain.BillingEvent) error {
	switch e := event.(type) {
	case domain.PurchaseConfirmed:
		return r.OnPurchaseConfirmed(ctx, e)
	case domain.PaymentFailed:
		return r.OnPaymentFailed(ctx, e)
	case domain.SubscriptionCancelled:
		return r.OnSubscriptionCancelled(ctx, e)
	default:
		return fmt.Errorf("%w: unsupported event type %T", domain.ErrMalformedEvent, event)
	}
}

// OnPurchaseConfirmed records the charge and grants units. A payment id that was
// already recorded is a no-op. A renewal charge of a known subscription refreshes
// its period without granting units again.
func (r *BillingReconciler) OnPurchaseConfirmed(ctx context.Context, e domain.PurchaseConfirmed) error {
	logger := r.logger.With().
		Str("event_id", e.EventID()).
		Str("user_id", e.UserID).
		Str("subscription_id", e.ExternalSubscriptionID).
		Logger()

	if err := e.Validate(); err != nil {
		logger.Warn().Err(err).Msg("Dropping malformed purchase event")
		r.record(OperationPurchaseConfirmed, e.UserID, false, true)
		return err
	}

	if r.applied.Contains(e.ExternalPaymentID) {
		logger.Info().Msg("Duplicate purchase event ignored")
		r.record(OperationPurchaseConfirmed, e.UserID, true, false)
		return nil
	}

	var (
		duplicate  bool
		granted    bool
		suspicious bool
	)

	err := repository.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		inserted, err := r.history.WithTx(tx).Insert(ctx, &domain.BillingHistoryEntry{
			UserID:            e.UserID,
			ExternalPaymentID: e.ExternalPaymentID,
			Amount:            e.Amount,
			UnitsPurchased:    e.UnitsPurchased,
			PeriodStart:       e.PeriodStart,
			PeriodEnd:         e.PeriodEnd,
			Status:            "succeeded",
		})
		if err != nil {
			return err
		}
		if !inserted {
			duplicate = true
			return nil
		}

		grant := true
		if e.ExternalSubscriptionID != "" {
			grant, suspicious, err = r.upsertSubscription(ctx, tx, e)
			if err != nil {
				return err
			}
		}
		if !grant {
			return nil
		}

		if _, err := r.quotas.WithTx(tx).ApplyPurchase(ctx, e.UserID, e.UnitsPurchased); err != nil {
			return err
		}
		granted = true
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to reconcile purchase")
		r.record(OperationPurchaseConfirmed, e.UserID, false, false)
		return fmt.Errorf("failed to reconcile purchase %s: %w", e.ExternalPaymentID, err)
	}

	r.applied.Add(e.ExternalPaymentID, struct{}{})
	r.record(OperationPurchaseConfirmed, e.UserID, true, suspicious)

	switch {
	case duplicate:
		logger.Info().Msg("Duplicate purchase event ignored")
	case granted:
		logger.Info().Int64("units", e.UnitsPurchased).Int64("amount", e.Amount).Msg("Storage units granted")
	default:
		logger.Info().Msg("Subscription renewal recorded")
	}

	return nil
}

// upsertSubscription creates the subscription on its first charge and renews it
// on later ones. It reports whether units should be granted.
func (r *BillingReconciler) upsertSubscription(ctx context.Context, tx *sqlx.Tx, e domain.PurchaseConfirmed) (grant, suspicious bool, err error) {
	subs := r.subscriptions.WithTx(tx)

	existing, err := subs.GetByExternalID(ctx, e.ExternalSubscriptionID)
	if errors.Is(err, domain.ErrSubscriptionNotFound) {
		err = subs.Create(ctx, &domain.StorageSubscription{
			UserID:                 e.UserID,
			ExternalSubscriptionID: e.ExternalSubscriptionID,
			UnitsPurchased:         e.UnitsPurchased,
			MonthlyPrice:           e.Amount,
			Status:                 domain.SubscriptionActive,
			PeriodStart:            e.PeriodStart,
			PeriodEnd:              e.PeriodEnd,
		})
		return err == nil, false, err
	}
	if err != nil {
		return false, false, err
	}

	if existing.Status == domain.SubscriptionStatusCancelled || existing.UserID != e.UserID {
		r.logger.Warn().
			Str("subscription_id", e.ExternalSubscriptionID).
			Str("status", string(existing.Status)).
			Str("owner", existing.UserID).
			Str("user_id", e.UserID).
			Msg("Charge against cancelled or foreign subscription, no units granted")
		return false, true, nil
	}

	if err := subs.Renew(ctx, e.ExternalSubscriptionID, e.PeriodStart, e.PeriodEnd); err != nil {
		return false, false, err
	}
	return false, false, nil
}

// OnPaymentFailed flags the subscription. Granted quota is left in place.
func (r *BillingReconciler) OnPaymentFailed(ctx context.Context, e domain.PaymentFailed) error {
	logger := r.logger.With().
		Str("event_id", e.EventID()).
		Str("subscription_id", e.ExternalSubscriptionID).
		Logger()

	if err := e.Validate(); err != nil {
		logger.Warn().Err(err).Msg("Dropping malformed payment failure event")
		r.record(OperationPaymentFailed, "", false, true)
		return err
	}

	changed, err := r.subscriptions.MarkPaymentFailed(ctx, e.ExternalSubscriptionID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to reconcile payment failure")
		r.record(OperationPaymentFailed, "", false, false)
		return fmt.Errorf("failed to reconcile payment failure for %s: %w", e.ExternalSubscriptionID, err)
	}

	if changed {
		logger.Warn().Int64("amount", e.Amount).Msg("Subscription payment failed")
	} else {
		logger.Info().Msg("Payment failure for unknown or inactive subscription ignored")
	}
	r.record(OperationPaymentFailed, "", true, false)

	return nil
}

// OnSubscriptionCancelled cancels the subscription and releases its units in one
// transaction. Cancelling an unknown or already cancelled subscription is a no-op.
func (r *BillingReconciler) OnSubscriptionCancelled(ctx context.Context, e domain.SubscriptionCancelled) error {
	logger := r.logger.With().
		Str("event_id", e.EventID()).
		Str("subscription_id", e.ExternalSubscriptionID).
		Logger()

	if err := e.Validate(); err != nil {
		logger.Warn().Err(err).Msg("Dropping malformed cancellation event")
		r.record(OperationSubscriptionCancelled, "", false, true)
		return err
	}

	var cancelled *domain.StorageSubscription
	err := repository.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		sub, err := r.subscriptions.WithTx(tx).Cancel(ctx, e.ExternalSubscriptionID)
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := r.quotas.WithTx(tx).ApplyCancellation(ctx, sub.UserID, sub.UnitsPurchased); err != nil {
			return err
		}
		cancelled = sub
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to reconcile cancellation")
		r.record(OperationSubscriptionCancelled, "", false, false)
		return fmt.Errorf("failed to reconcile cancellation of %s: %w", e.ExternalSubscriptionID, err)
	}

	if cancelled == nil {
		logger.Info().Msg("Cancellation for unknown or already cancelled subscription ignored")
		r.record(OperationSubscriptionCancelled, "", true, true)
		return nil
	}

	logger.Info().
		Str("user_id", cancelled.UserID).
		Int64("units", cancelled.UnitsPurchased).
		Msg("Subscription cancelled, units released")
	r.record(OperationSubscriptionCancelled, cancelled.UserID, true, false)

	return nil
}

func (r *BillingReconciler) record(operation, userID string, success, suspicious bool) {
	if r.monitor == nil {
		return
	}
	r.monitor.RecordCartOperation(monitoring.CartOperationResult{
		Operation:  operation,
		UserID:     userID,
		Success:    success,
		Suspicious: suspicious,
	})
}
