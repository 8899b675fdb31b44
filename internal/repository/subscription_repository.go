package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"photoquota/internal/domain"
)

const subscriptionColumns = `id, user_id, external_subscription_id, units_purchased, monthly_price,
        status, period_start, period_end, created_at, updated_at`

// SubscriptionRepository stores storage add-on subscriptions. Rows are only
// status-transitioned, never deleted.
type SubscriptionRepository struct {
	db sqlx.ExtContext
}

func NewSubscriptionRepository(db sqlx.ExtContext) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) WithTx(tx *sqlx.Tx) *SubscriptionRepository {
	return &SubscriptionRepository{db: tx}
}

func (r *SubscriptionRepository) Create(ctx context.Context, sub *domain.StorageSubscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.Status == "" {
		sub.Status = domain.SubscriptionActive
	}

	query := `
        INSERT INTO storage_subscriptions (id, user_id, external_subscription_id, units_purchased,
            monthly_price, status, period_start, period_end)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		sub.ID,
		sub.UserID,
		sub.ExternalSubscriptionID,
		sub.UnitsPurchased,
		sub.MonthlyPrice,
		sub.Status,
		sub.PeriodStart,
		sub.PeriodEnd,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	return nil
}

// GetByExternalID returns domain.ErrSubscriptionNotFound for an unknown id.
func (r *SubscriptionRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.StorageSubscription, error) {
	var sub domain.StorageSubscription
	err := sqlx.GetContext(ctx, r.db, &sub,
		`SELECT `+subscriptionColumns+` FROM storage_subscriptions WHERE external_subscription_id = $1`,
		externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

// Renew marks the subscription active for a new billing period.
func (r *SubscriptionRepository) Renew(ctx context.Context, externalID string, periodStart, periodEnd time.Time) error {
	query := `
        UPDATE storage_subscriptions
        SET status = $2,
            period_start = $3,
            period_end = $4,
            updated_at = CURRENT_TIMESTAMP
        WHERE external_subscription_id = $1 AND status <> $5`

	result, err := r.db.ExecContext(ctx, query, externalID, domain.SubscriptionActive, periodStart, periodEnd, domain.SubscriptionStatusCancelled)
	if err != nil {
		return fmt.Errorf("failed to renew subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return domain.ErrSubscriptionNotFound
	}

	return nil
}

// MarkPaymentFailed moves an active subscription to payment_failed and reports
// whether a row changed.
func (r *SubscriptionRepository) MarkPaymentFailed(ctx context.Context, externalID string) (bool, error) {
	query := `
        UPDATE storage_subscriptions
        SET status = $2,
            updated_at = CURRENT_TIMESTAMP
        WHERE external_subscription_id = $1 AND status = $3`

	result, err := r.db.ExecContext(ctx, query, externalID, domain.SubscriptionPaymentFailed, domain.SubscriptionActive)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows > 0, nil
}

// Cancel transitions a not yet cancelled subscription to cancelled and returns
// it. An unknown or already cancelled subscription yields domain.ErrSubscriptionNotFound.
func (r *SubscriptionRepository) Cancel(ctx context.Context, externalID string) (*domain.StorageSubscription, error) {
	query := `
        UPDATE storage_subscriptions
        SET status = $2,
            updated_at = CURRENT_TIMESTAMP
        WHERE external_subscription_id = $1 AND status <> $2
        RETURNING ` + subscriptionColumns

	var sub domain.StorageSubscription
	if err := sqlx.GetContext(ctx, r.db, &sub, query, externalID, domain.SubscriptionStatusCancelled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}

	return &sub, nil
}

func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]domain.StorageSubscription, error) {
	var subs []domain.StorageSubscription
	err := sqlx.SelectContext(ctx, r.db, &subs,
		`SELECT `+subscriptionColumns+` FROM storage_subscriptions WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}
