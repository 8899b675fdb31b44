package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"photoquota/internal/config"
	"photoquota/internal/domain"
	"photoquota/internal/service/s3"
)

type SessionLister interface {
	ListSessionIDs(ctx context.Context, userID string) ([]string, error)
}

type UsageRecorder interface {
	UpdateUsage(ctx context.Context, userID string, usedBytes int64, at time.Time) error
}

// UsageCalculator recomputes a user's consumption from the object store.
type UsageCalculator struct {
	sessions       SessionLister
	store          s3.ObjectLister
	recorder       UsageRecorder
	sessionTimeout time.Duration
	overallTimeout time.Duration
	concurrency    int
	now            func() time.Time
}

func NewUsageCalculator(sessions SessionLister, store s3.ObjectLister, recorder UsageRecorder, cfg config.QuotaConfig) *UsageCalculator {
	concurrency := cfg.ListConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &UsageCalculator{
		sessions:       sessions,
		store:          store,
		recorder:       recorder,
		sessionTimeout: cfg.SessionListTimeout,
		overallTimeout: cfg.UsageTimeout,
		concurrency:    concurrency,
		now:            time.Now,
	}
}

type sessionUsage struct {
	breakdown map[domain.FolderKind]domain.FolderUsage
	err       error
}

// ComputeUsage lists the gallery and raw folders of every session the user owns
// and sums object sizes. A session whose listing fails is skipped; if every
// session fails, or the overall deadline passes, ErrUsageUnavailable is returned.
// The result is written back to the ledger as the cached usage figure.
func (c *UsageCalculator) ComputeUsage(ctx context.Context, userID string) (*domain.UsageSnapshot, error) {
	if c.overallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.overallTimeout)
		defer cancel()
	}

	logger := log.With().Str("component", "usage_calculator").Str("user_id", userID).Logger()
	start := c.now()

	sessionIDs, err := c.sessions.ListSessionIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUsageUnavailable, err)
	}

	results := make([]sessionUsage, len(sessionIDs))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, sessionID := range sessionIDs {
		i, sessionID := i, sessionID
		g.Go(func() error {
			results[i] = c.sessionUsage(ctx, userID, sessionID)
			return nil
		})
	}
	_ = g.Wait()

	snapshot := &domain.UsageSnapshot{
		UserID:          userID,
		Breakdown:       make(map[domain.FolderKind]domain.FolderUsage, len(domain.FolderKinds)),
		SessionsScanned: len(sessionIDs),
		CalculatedAt:    c.now(),
	}
	for _, kind := range domain.FolderKinds {
		snapshot.Breakdown[kind] = domain.FolderUsage{}
	}

	for i, res := range results {
		if res.err != nil {
			snapshot.SessionsFailed++
			logger.Warn().Err(res.err).Str("session_id", sessionIDs[i]).Msg("Skipping session, listing failed")
			continue
		}
		for kind, usage := range res.breakdown {
			agg := snapshot.Breakdown[kind]
			agg.Bytes += usage.Bytes
			agg.Files += usage.Files
			snapshot.Breakdown[kind] = agg
			snapshot.TotalBytes += usage.Bytes
			snapshot.TotalFiles += usage.Files
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUsageUnavailable, ctxErr)
	}
	if len(sessionIDs) > 0 && snapshot.SessionsFailed == len(sessionIDs) {
		return nil, fmt.Errorf("%w: all %d sessions failed to list", domain.ErrUsageUnavailable, len(sessionIDs))
	}

	if err := c.recorder.UpdateUsage(ctx, userID, snapshot.TotalBytes, snapshot.CalculatedAt); err != nil {
		logger.Error().Err(err).Msg("Failed to refresh cached usage")
	}

	logger.Debug().
		Int64("total_bytes", snapshot.TotalBytes).
		Int64("total_files", snapshot.TotalFiles).
		Int("sessions", snapshot.SessionsScanned).
		Int("failed", snapshot.SessionsFailed).
		Dur("elapsed", c.now().Sub(start)).
		Msg("Usage computed")

	return snapshot, nil
}

func (c *UsageCalculator) sessionUsage(ctx context.Context, userID, sessionID string) sessionUsage {
	if c.sessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.sessionTimeout)
		defer cancel()
	}

	breakdown := make(map[domain.FolderKind]domain.FolderUsage, len(domain.FolderKinds))
	for _, kind := range domain.FolderKinds {
		objects, err := c.store.ListObjects(ctx, domain.SessionPrefix(userID, sessionID, kind))
		if err != nil {
			return sessionUsage{err: fmt.Errorf("list %s: %w", kind, err)}
		}
		var usage domain.FolderUsage
		for _, obj := range objects {
			usage.Bytes += obj.Size
			usage.Files++
		}
		breakdown[kind] = usage
	}

	return sessionUsage{breakdown: breakdown}
}
