package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"photoquota/internal/domain"
	"photoquota/internal/repository"
)

// UsageCache is the advisory display cache. It is never consulted by admission.
type UsageCache interface {
	Get(ctx context.Context, userID string) (*domain.UsageSnapshot, bool, error)
	Set(ctx context.Context, snapshot *domain.UsageSnapshot) error
	Invalidate(ctx context.Context, userID string) error
}

type StorageQuotaService struct {
	quotaRepo        *repository.StorageQuotaRepository
	usage            UsageComputer
	cache            UsageCache
	warningThreshold float64
}

func NewStorageQuotaService(quotaRepo *repository.StorageQuotaRepository, usage UsageComputer, cache UsageCache, warningThreshold float64) *StorageQuotaService {
	return &StorageQuotaService{
		quotaRepo:        quotaRepo,
		usage:            usage,
		cache:            cache,
		warningThreshold: warningThreshold,
	}
}

// GetQuotaInfo builds the display view. Usage comes from the display cache when
// present, otherwise it is recomputed; if recomputation fails the last figure
// stored on the ledger is shown instead.
func (s *StorageQuotaService) GetQuotaInfo(ctx context.Context, userID string) (*domain.QuotaInfo, error) {
	quota, err := s.quotaRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get quota: %w", err)
	}

	usedBytes := quota.UsedBytes
	calculatedAt := quota.LastCalculatedAt
	var totalFiles int64

	snapshot, err := s.displayUsage(ctx, userID)
	if err != nil {
		log.Warn().
			Err(err).
			Str("component", "quota_service").
			Str("user_id", userID).
			Msg("Falling back to last recorded usage")
	} else {
		usedBytes = snapshot.TotalBytes
		totalFiles = snapshot.TotalFiles
		at := snapshot.CalculatedAt
		calculatedAt = &at
	}

	return buildQuotaInfo(quota, usedBytes, totalFiles, calculatedAt, s.warningThreshold), nil
}

func (s *StorageQuotaService) displayUsage(ctx context.Context, userID string) (*domain.UsageSnapshot, error) {
	if s.cache != nil {
		snapshot, ok, err := s.cache.Get(ctx, userID)
		if err != nil {
			log.Debug().Err(err).Str("component", "quota_service").Msg("Usage cache read failed")
		} else if ok {
			return snapshot, nil
		}
	}
	return s.Recalculate(ctx, userID)
}

// Recalculate recomputes usage and refreshes the display cache.
func (s *StorageQuotaService) Recalculate(ctx context.Context, userID string) (*domain.UsageSnapshot, error) {
	snapshot, err := s.usage.ComputeUsage(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, snapshot); err != nil {
			log.Debug().Err(err).Str("component", "quota_service").Msg("Usage cache write failed")
		}
	}
	return snapshot, nil
}

// InvalidateUsage drops the cached display figure after an upload or delete.
func (s *StorageQuotaService) InvalidateUsage(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		log.Warn().Err(err).Str("component", "quota_service").Str("user_id", userID).Msg("Usage cache invalidation failed")
	}
}

func buildQuotaInfo(quota *domain.StorageQuota, usedBytes, totalFiles int64, calculatedAt *time.Time, warningThreshold float64) *domain.QuotaInfo {
	total := float64(quota.TotalQuotaGB)
	used := domain.BytesToGB(usedBytes)

	available := total - used
	if available < 0 {
		available = 0
	}

	var percent float64
	if total > 0 {
		percent = used / total * 100
	}

	return &domain.QuotaInfo{
		TotalSpaceGB:     total,
		UsedSpaceGB:      used,
		AvailableSpaceGB: available,
		UsagePercent:     percent,
		NearLimit:        total <= 0 || used/total >= warningThreshold,
		PurchasedUnits:   quota.PurchasedUnits,
		TotalFiles:       totalFiles,
		CalculatedAt:     calculatedAt,
	}
}
