package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"photoquota/internal/config"
	"photoquota/internal/domain"
	"photoquota/internal/monitoring"
)

type QuotaReader interface {
	GetOrCreate(ctx context.Context, userID string) (*domain.StorageQuota, error)
}

type UsageComputer interface {
	ComputeUsage(ctx context.Context, userID string) (*domain.UsageSnapshot, error)
}

type QuotaCheckRecorder interface {
	RecordQuotaCheck(result monitoring.QuotaCheckResult, responseTimeMs float64)
}

// AdmissionService decides whether a candidate upload fits the user's quota.
// Usage is recomputed from the object store on every check.
type AdmissionService struct {
	quotas           QuotaReader
	usage            UsageComputer
	monitor          QuotaCheckRecorder
	adminEmails      map[string]struct{}
	warningThreshold float64
	now              func() time.Time
}

func NewAdmissionService(quotas QuotaReader, usage UsageComputer, monitor QuotaCheckRecorder, cfg config.QuotaConfig) *AdmissionService {
	admins := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		if email = normalizeEmail(email); email != "" {
			admins[email] = struct{}{}
		}
	}

	return &AdmissionService{
		quotas:           quotas,
		usage:            usage,
		monitor:          monitor,
		adminEmails:      admins,
		warningThreshold: cfg.WarningThreshold,
		now:              time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsAdmin reports whether email is on the administrative bypass list.
func (s *AdmissionService) IsAdmin(email string) bool {
	if email == "" {
		return false
	}
	_, ok := s.adminEmails[normalizeEmail(email)]
	return ok
}

// CanUpload returns the admission decision for candidateBytes. Quota exceeded is
// reported through Decision.Allowed, not as an error.
func (s *AdmissionService) CanUpload(ctx context.Context, userID string, candidateBytes int64, userEmail string) (*domain.Decision, error) {
	start := s.now()
	logger := log.With().Str("component", "admission").Str("user_id", userID).Logger()

	if s.IsAdmin(userEmail) {
		decision := &domain.Decision{
			Allowed:     true,
			AdminBypass: true,
			QuotaGB:     domain.UnlimitedGB,
			RemainingGB: domain.UnlimitedGB,
		}
		s.record(userID, decision, start)
		logger.Debug().Msg("Admin bypass")
		return decision, nil
	}

	if candidateBytes < 0 {
		return nil, domain.ErrInvalidUploadSize
	}

	quota, err := s.quotas.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.usage.ComputeUsage(ctx, userID)
	if err != nil {
		return nil, err
	}

	decision := Decide(snapshot.TotalBytes, candidateBytes, quota.TotalQuotaGB, s.warningThreshold)
	s.record(userID, decision, start)

	if !decision.Allowed {
		logger.Info().
			Int64("candidate_bytes", candidateBytes).
			Float64("projected_gb", decision.ProjectedUsageGB).
			Float64("quota_gb", decision.QuotaGB).
			Msg("Upload denied, quota exceeded")
	}

	return decision, nil
}

// Decide computes a decision from raw figures. Projected usage is summed in GB
// so a huge candidate cannot wrap the byte count.
func Decide(usedBytes, candidateBytes, quotaGB int64, warningThreshold float64) *domain.Decision {
	current := domain.BytesToGB(usedBytes)
	projected := current + domain.BytesToGB(candidateBytes)
	quota := float64(quotaGB)
	overflow := candidateBytes > math.MaxInt64-usedBytes

	remaining := quota - current
	if remaining < 0 {
		remaining = 0
	}

	return &domain.Decision{
		Allowed:          candidateBytes == 0 || (!overflow && projected <= quota),
		CurrentUsageGB:   current,
		ProjectedUsageGB: projected,
		QuotaGB:          quota,
		RemainingGB:      remaining,
		NearLimit:        quota <= 0 || current/quota >= warningThreshold,
	}
}

func (s *AdmissionService) record(userID string, d *domain.Decision, start time.Time) {
	if s.monitor == nil {
		return
	}
	s.monitor.RecordQuotaCheck(monitoring.QuotaCheckResult{
		UserID:      userID,
		Allowed:     d.Allowed,
		NearLimit:   d.NearLimit,
		AdminBypass: d.AdminBypass,
	}, float64(s.now().Sub(start).Microseconds())/1000)
}
