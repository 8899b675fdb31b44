package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"photoquota/internal/domain"
)

// BillingHistoryRepository is the append-only charge log, unique on the
// provider's payment id.
type BillingHistoryRepository struct {
	db sqlx.ExtContext
}

func NewBillingHistoryRepository(db sqlx.ExtContext) *BillingHistoryRepository {
	return &BillingHistoryRepository{db: db}
}

func (r *BillingHistoryRepository) WithTx(tx *sqlx.Tx) *BillingHistoryRepository {
	return &BillingHistoryRepository{db: tx}
}

// Insert appends an entry and reports false when the payment id was already recorded.
func (r *BillingHistoryRepository) Insert(ctx context.Context, entry *domain.BillingHistoryEntry) (bool, error) {
	query := `
        INSERT INTO billing_history (user_id, external_payment_id, amount, units_purchased,
            period_start, period_end, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (external_payment_id) DO NOTHING
        RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query,
		entry.UserID,
		entry.ExternalPaymentID,
		entry.Amount,
		entry.UnitsPurchased,
		entry.PeriodStart,
		entry.PeriodEnd,
		entry.Status,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert billing history: %w", err)
	}

	return true, nil
}

func (r *BillingHistoryRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.BillingHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	var entries []domain.BillingHistoryEntry
	err := sqlx.SelectContext(ctx, r.db, &entries, `
        SELECT id, user_id, external_payment_id, amount, units_purchased,
               period_start, period_end, status, created_at
        FROM billing_history
        WHERE user_id = $1
        ORDER BY created_at DESC
        LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list billing history: %w", err)
	}
	return entries, nil
}
