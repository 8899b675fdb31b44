// Package monitoring samples quota and entitlement counters on a schedule,
// derives trends and raises threshold alerts. All state lives on a Monitor
// instance; hooks never block on the scheduler and never panic into callers.
package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"photoquota/internal/config"
	"photoquota/internal/domain"
	"photoquota/internal/logging"
)

const emaAlpha = 0.1

// QuotaCheckResult is what admission control reports for one check.
type QuotaCheckResult struct {
	UserID      string
	Allowed     bool
	NearLimit   bool
	AdminBypass bool
}

// Violation reports whether the check denied a non-bypass upload.
func (r QuotaCheckResult) Violation() bool {
	return !r.Allowed && !r.AdminBypass
}

// CartOperationResult is what the entitlement path reports for one billing event.
type CartOperationResult struct {
	Operation  string
	UserID     string
	Success    bool
	Suspicious bool
}

type counters struct {
	quotaChecks     int64
	quotaViolations int64
	cartOperations  int64
	suspicious      int64
}

type Monitor struct {
	cfg       config.MonitoringConfig
	collector *Collector
	logger    zerolog.Logger
	now       func() time.Time

	mu            sync.Mutex
	window        counters
	totals        counters
	avgResponseMs float64
	latencySeen   bool
	lastUpdate    time.Time
	history       []domain.MetricsSnapshot
	trend         *domain.TrendReport
	alerts        []domain.Alert

	lifecycle sync.Mutex
	scheduler *cron.Cron
	listeners []func(running bool)
}

// NewMonitor builds a stopped monitor. A nil collector registers on a private registry.
func NewMonitor(cfg config.MonitoringConfig, collector *Collector) *Monitor {
	if collector == nil {
		collector = NewCollector(prometheus.NewRegistry())
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 120
	}
	if cfg.MaxAlerts <= 0 {
		cfg.MaxAlerts = 1000
	}

	return &Monitor{
		cfg:       cfg,
		collector: collector,
		logger:    log.With().Str("component", "monitoring").Logger(),
		now:       time.Now,
	}
}

// OnStateChange registers fn to be called after every start and stop.
func (m *Monitor) OnStateChange(fn func(running bool)) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.listeners = append(m.listeners, fn)
}

// StartMonitoring schedules the metrics, trend and alert jobs. It returns false
// and does nothing when monitoring is already running.
func (m *Monitor) StartMonitoring() bool {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.scheduler != nil {
		m.logger.Warn().Msg("Monitoring already running, start ignored")
		return false
	}

	cronLogger := logging.CronLogger{Logger: m.logger}
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		),
	)
	c.Schedule(cron.Every(m.cfg.MetricsInterval), cron.FuncJob(m.CollectMetrics))
	c.Schedule(cron.Every(m.cfg.TrendInterval), cron.FuncJob(func() { m.AnalyzeTrends() }))
	c.Schedule(cron.Every(m.cfg.AlertInterval), cron.FuncJob(func() { m.CheckAlerts() }))
	c.Start()

	m.scheduler = c
	m.collector.setRunning(true)
	m.notify(true)

	m.logger.Info().
		Dur("metrics_interval", m.cfg.MetricsInterval).
		Dur("trend_interval", m.cfg.TrendInterval).
		Dur("alert_interval", m.cfg.AlertInterval).
		Msg("Monitoring started")

	return true
}

// StopMonitoring stops the scheduler and waits for in-flight jobs or ctx,
// whichever comes first. It returns false when monitoring was not running.
func (m *Monitor) StopMonitoring(ctx context.Context) bool {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.scheduler == nil {
		return false
	}

	done := m.scheduler.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		m.logger.Warn().Msg("Stop deadline reached before running jobs finished")
	}

	m.scheduler = nil
	m.collector.setRunning(false)
	m.notify(false)

	m.logger.Info().Msg("Monitoring stopped")
	return true
}

func (m *Monitor) Running() bool {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.scheduler != nil
}

// ActiveJobs is the number of scheduled jobs, zero when stopped.
func (m *Monitor) ActiveJobs() int {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.scheduler == nil {
		return 0
	}
	return len(m.scheduler.Entries())
}

func (m *Monitor) notify(running bool) {
	for _, fn := range m.listeners {
		func() {
			defer m.recoverHook("state_listener")
			fn(running)
		}()
	}
}

// RecordQuotaCheck counts an admission check and folds its latency into the
// moving average.
func (m *Monitor) RecordQuotaCheck(result QuotaCheckResult, responseTimeMs float64) {
	if m == nil {
		return
	}
	defer m.recoverHook("record_quota_check")

	m.mu.Lock()
	m.window.quotaChecks++
	m.totals.quotaChecks++
	if result.Violation() {
		m.window.quotaViolations++
		m.totals.quotaViolations++
	}
	if !m.latencySeen {
		m.avgResponseMs = responseTimeMs
		m.latencySeen = true
	} else {
		m.avgResponseMs = emaAlpha*responseTimeMs + (1-emaAlpha)*m.avgResponseMs
	}
	m.lastUpdate = m.now()
	m.mu.Unlock()

	outcome := "allowed"
	switch {
	case result.AdminBypass:
		outcome = "bypass"
	case !result.Allowed:
		outcome = "denied"
	}
	m.collector.recordQuotaCheck(outcome, responseTimeMs)
}

// RecordCartOperation counts a billing event handled by the entitlement path.
func (m *Monitor) RecordCartOperation(result CartOperationResult) {
	if m == nil {
		return
	}
	defer m.recoverHook("record_cart_operation")

	m.mu.Lock()
	m.window.cartOperations++
	m.totals.cartOperations++
	if result.Suspicious {
		m.window.suspicious++
		m.totals.suspicious++
	}
	m.lastUpdate = m.now()
	m.mu.Unlock()

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	m.collector.recordCartOperation(result.Operation, outcome, result.Suspicious)

	if result.Suspicious {
		m.logger.Warn().
			Str("operation", result.Operation).
			Str("user_id", result.UserID).
			Msg("Suspicious entitlement activity")
	}
}

func (m *Monitor) recoverHook(name string) {
	if r := recover(); r != nil {
		m.logger.Error().Interface("panic", r).Str("hook", name).Msg("Monitoring hook panicked")
	}
}

// CollectMetrics appends a cumulative snapshot, stamped with the sample time,
// to the bounded history.
func (m *Monitor) CollectMetrics() {
	m.mu.Lock()
	snap := m.snapshotLocked(m.totals)
	snap.LastUpdateTime = m.now()
	m.history = append(m.history, snap)
	if over := len(m.history) - m.cfg.HistorySize; over > 0 {
		m.history = append(m.history[:0:0], m.history[over:]...)
	}
	active := m.activeAlertsLocked()
	m.mu.Unlock()

	m.collector.setSnapshot(snap.AvgResponseTimeMs, active)

	m.logger.Debug().
		Int64("quota_checks", snap.QuotaChecks).
		Int64("quota_violations", snap.QuotaViolations).
		Int64("cart_operations", snap.CartOperations).
		Float64("avg_response_ms", snap.AvgResponseTimeMs).
		Msg("Metrics collected")
}

func (m *Monitor) snapshotLocked(c counters) domain.MetricsSnapshot {
	last := m.lastUpdate
	if last.IsZero() {
		last = m.now()
	}
	return domain.MetricsSnapshot{
		QuotaChecks:          c.quotaChecks,
		QuotaViolations:      c.quotaViolations,
		CartOperations:       c.cartOperations,
		SuspiciousActivities: c.suspicious,
		AvgResponseTimeMs:    m.avgResponseMs,
		LastUpdateTime:       last,
	}
}

// Snapshot returns the cumulative counters since process start.
func (m *Monitor) Snapshot() domain.MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(m.totals)
}

// AnalyzeTrends derives per-minute rates from the first and last history samples.
func (m *Monitor) AnalyzeTrends() *domain.TrendReport {
	m.mu.Lock()
	report := buildTrend(m.history, m.now())
	m.trend = report
	m.mu.Unlock()

	m.logger.Info().
		Int("samples", report.Samples).
		Float64("checks_per_minute", report.QuotaChecksPerMinute).
		Float64("violation_ratio", report.ViolationRatio).
		Str("latency_trend", report.LatencyTrend).
		Msg("Trend analysis complete")

	return report
}

func buildTrend(history []domain.MetricsSnapshot, now time.Time) *domain.TrendReport {
	report := &domain.TrendReport{
		GeneratedAt:  now,
		Samples:      len(history),
		LatencyTrend: "stable",
	}
	if len(history) < 2 {
		return report
	}

	first, last := history[0], history[len(history)-1]
	minutes := last.LastUpdateTime.Sub(first.LastUpdateTime).Minutes()
	report.WindowMinutes = minutes

	checks := last.QuotaChecks - first.QuotaChecks
	violations := last.QuotaViolations - first.QuotaViolations
	if minutes > 0 {
		report.QuotaChecksPerMinute = float64(checks) / minutes
		report.ViolationsPerMinute = float64(violations) / minutes
		report.CartOpsPerMinute = float64(last.CartOperations-first.CartOperations) / minutes
	}
	if checks > 0 {
		report.ViolationRatio = float64(violations) / float64(checks)
	}

	switch {
	case last.AvgResponseTimeMs > first.AvgResponseTimeMs*1.1:
		report.LatencyTrend = "increasing"
	case last.AvgResponseTimeMs < first.AvgResponseTimeMs*0.9:
		report.LatencyTrend = "decreasing"
	}

	return report
}

// GetDashboardData returns copies of the current monitoring state.
func (m *Monitor) GetDashboardData() domain.DashboardData {
	running := m.Running()

	m.mu.Lock()
	defer m.mu.Unlock()

	data := domain.DashboardData{
		Running:      running,
		Current:      m.snapshotLocked(m.totals),
		Window:       m.snapshotLocked(m.window),
		ActiveAlerts: m.activeAlertsLocked(),
		History:      append([]domain.MetricsSnapshot(nil), m.history...),
	}
	if m.trend != nil {
		trend := *m.trend
		data.Trend = &trend
	}

	const recent = 20
	start := len(m.alerts) - recent
	if start < 0 {
		start = 0
	}
	data.RecentAlerts = append([]domain.Alert(nil), m.alerts[start:]...)

	return data
}
