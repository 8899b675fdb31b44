package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"photoquota/internal/domain"
)

const quotaColumns = `id, user_id, base_allowance_gb, purchased_units, total_quota_gb,
        used_bytes, last_calculated_at, created_at, updated_at`

// StorageQuotaRepository is the quota ledger. Every mutation is a single upsert
// statement so concurrent changes for one user serialize on the row lock.
type StorageQuotaRepository struct {
	db              sqlx.ExtContext
	baseAllowanceGB int64
	unitSizeGB      int64
}

func NewStorageQuotaRepository(db sqlx.ExtContext, baseAllowanceGB, unitSizeGB int64) *StorageQuotaRepository {
	return &StorageQuotaRepository{
		db:              db,
		baseAllowanceGB: baseAllowanceGB,
		unitSizeGB:      unitSizeGB,
	}
}

// WithTx returns a copy of the repository bound to tx.
func (r *StorageQuotaRepository) WithTx(tx *sqlx.Tx) *StorageQuotaRepository {
	return &StorageQuotaRepository{
		db:              tx,
		baseAllowanceGB: r.baseAllowanceGB,
		unitSizeGB:      r.unitSizeGB,
	}
}

func (r *StorageQuotaRepository) UnitSizeGB() int64 {
	return r.unitSizeGB
}

// GetOrCreate returns the user's record, inserting defaults on first access.
func (r *StorageQuotaRepository) GetOrCreate(ctx context.Context, userID string) (*domain.StorageQuota, error) {
	query := `
        INSERT INTO storage_quotas (user_id, base_allowance_gb, purchased_units, total_quota_gb)
        VALUES ($1, $2, 0, $2)
        ON CONFLICT (user_id) DO UPDATE
        SET user_id = EXCLUDED.user_id
        RETURNING ` + quotaColumns

	var quota domain.StorageQuota
	if err := sqlx.GetContext(ctx, r.db, &quota, query, userID, r.baseAllowanceGB); err != nil {
		return nil, fmt.Errorf("failed to get or create quota: %w", err)
	}

	return &quota, nil
}

// ApplyPurchase atomically adds units and recomputes the total.
func (r *StorageQuotaRepository) ApplyPurchase(ctx context.Context, userID string, units int64) (*domain.StorageQuota, error) {
	if units <= 0 {
		return nil, fmt.Errorf("purchase units must be positive, got %d", units)
	}

	query := `
        INSERT INTO storage_quotas (user_id, base_allowance_gb, purchased_units, total_quota_gb)
        VALUES ($1, $2::bigint, $3::bigint, $2::bigint + $3::bigint * $4::bigint)
        ON CONFLICT (user_id) DO UPDATE
        SET purchased_units = storage_quotas.purchased_units + EXCLUDED.purchased_units,
            total_quota_gb = storage_quotas.base_allowance_gb
                + (storage_quotas.purchased_units + EXCLUDED.purchased_units) * $4::bigint,
            updated_at = CURRENT_TIMESTAMP
        RETURNING ` + quotaColumns

	var quota domain.StorageQuota
	if err := sqlx.GetContext(ctx, r.db, &quota, query, userID, r.baseAllowanceGB, units, r.unitSizeGB); err != nil {
		return nil, fmt.Errorf("failed to apply purchase: %w", err)
	}

	log.Info().
		Str("component", "quota_repository").
		Str("user_id", userID).
		Int64("units", units).
		Int64("purchased_units", quota.PurchasedUnits).
		Int64("total_quota_gb", quota.TotalQuotaGB).
		Msg("Purchase applied")

	return &quota, nil
}

// ApplyCancellation atomically removes units, clamping at zero.
func (r *StorageQuotaRepository) ApplyCancellation(ctx context.Context, userID string, units int64) (*domain.StorageQuota, error) {
	if units <= 0 {
		return nil, fmt.Errorf("cancellation units must be positive, got %d", units)
	}

	query := `
        INSERT INTO storage_quotas (user_id, base_allowance_gb, purchased_units, total_quota_gb)
        VALUES ($1, $2::bigint, 0, $2::bigint)
        ON CONFLICT (user_id) DO UPDATE
        SET purchased_units = GREATEST(0, storage_quotas.purchased_units - $3::bigint),
            total_quota_gb = storage_quotas.base_allowance_gb
                + GREATEST(0, storage_quotas.purchased_units - $3::bigint) * $4::bigint,
            updated_at = CURRENT_TIMESTAMP
        RETURNING ` + quotaColumns

	var quota domain.StorageQuota
	if err := sqlx.GetContext(ctx, r.db, &quota, query, userID, r.baseAllowanceGB, units, r.unitSizeGB); err != nil {
		return nil, fmt.Errorf("failed to apply cancellation: %w", err)
	}

	log.Info().
		Str("component", "quota_repository").
		Str("user_id", userID).
		Int64("units", units).
		Int64("purchased_units", quota.PurchasedUnits).
		Int64("total_quota_gb", quota.TotalQuotaGB).
		Msg("Cancellation applied")

	return &quota, nil
}

// UpdateUsage refreshes the cached usage figure. It never touches quota columns.
func (r *StorageQuotaRepository) UpdateUsage(ctx context.Context, userID string, usedBytes int64, at time.Time) error {
	query := `
        INSERT INTO storage_quotas (user_id, base_allowance_gb, purchased_units, total_quota_gb, used_bytes, last_calculated_at)
        VALUES ($1, $2, 0, $2, $3, $4)
        ON CONFLICT (user_id) DO UPDATE
        SET used_bytes = EXCLUDED.used_bytes,
            last_calculated_at = EXCLUDED.last_calculated_at,
            updated_at = CURRENT_TIMESTAMP`

	if _, err := r.db.ExecContext(ctx, query, userID, r.baseAllowanceGB, usedBytes, at); err != nil {
		return fmt.Errorf("failed to update used space: %w", err)
	}

	return nil
}
