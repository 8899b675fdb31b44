package domain

import (
	"time"

	"github.com/google/uuid"
)

// MetricsSnapshot holds best-effort, process-local operation counters.
type MetricsSnapshot struct {
	QuotaChecks          int64     `json:"quota_checks"`
	QuotaViolations      int64     `json:"quota_violations"`
	CartOperations       int64     `json:"cart_operations"`
	SuspiciousActivities int64     `json:"suspicious_activities"`
	AvgResponseTimeMs    float64   `json:"avg_response_time_ms"`
	LastUpdateTime       time.Time `json:"last_update_time"`
}

// AlertSeverity grades an alert.
type AlertSeverity string

const (
	SeverityLow    AlertSeverity = "low"
	SeverityMedium AlertSeverity = "medium"
	SeverityHigh   AlertSeverity = "high"
)

const (
	AlertQuotaViolationThreshold     = "quota_violation_threshold"
	AlertSuspiciousActivityThreshold = "suspicious_activity_threshold"
	AlertQuotaCheckLatency           = "quota_check_latency"
)

// Alert is raised when a window counter crosses a configured threshold.
type Alert struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	Severity  AlertSeverity   `json:"severity"`
	Timestamp time.Time       `json:"timestamp"`
	Metrics   MetricsSnapshot `json:"metrics"`
	Resolved  bool            `json:"resolved"`
}

// TrendReport summarises the sampled metric history.
type TrendReport struct {
	GeneratedAt          time.Time `json:"generated_at"`
	Samples              int       `json:"samples"`
	WindowMinutes        float64   `json:"window_minutes"`
	QuotaChecksPerMinute float64   `json:"quota_checks_per_minute"`
	ViolationsPerMinute  float64   `json:"violations_per_minute"`
	ViolationRatio       float64   `json:"violation_ratio"`
	CartOpsPerMinute     float64   `json:"cart_ops_per_minute"`
	LatencyTrend         string    `json:"latency_trend"`
}

// DashboardData is the read-only monitoring summary served to the admin UI.
type DashboardData struct {
	Running      bool              `json:"running"`
	Current      MetricsSnapshot   `json:"current"`
	Window       MetricsSnapshot   `json:"window"`
	RecentAlerts []Alert           `json:"recent_alerts"`
	ActiveAlerts int               `json:"active_alerts"`
	Trend        *TrendReport      `json:"trend,omitempty"`
	History      []MetricsSnapshot `json:"history"`
}
