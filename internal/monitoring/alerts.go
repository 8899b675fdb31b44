package monitoring

import (
	"fmt"

	"github.com/google/uuid"

	"photoquota/internal/domain"
)

// CheckAlerts compares the current window against the configured thresholds,
// records one alert per breach, then starts a new window.
func (m *Monitor) CheckAlerts() []domain.Alert {
	m.mu.Lock()
	now := m.now()
	window := m.snapshotLocked(m.window)

	var raised []domain.Alert
	newAlert := func(alertType string, severity domain.AlertSeverity, msg string) {
		raised = append(raised, domain.Alert{
			ID:        uuid.New(),
			Type:      alertType,
			Message:   msg,
			Severity:  severity,
			Timestamp: now,
			Metrics:   window,
		})
	}

	if window.QuotaViolations > m.cfg.QuotaViolationThreshold {
		newAlert(domain.AlertQuotaViolationThreshold, domain.SeverityMedium,
			fmt.Sprintf("%d quota violations in window exceeds threshold %d",
				window.QuotaViolations, m.cfg.QuotaViolationThreshold))
	}
	if window.SuspiciousActivities > m.cfg.SuspiciousActivityThreshold {
		newAlert(domain.AlertSuspiciousActivityThreshold, domain.SeverityHigh,
			fmt.Sprintf("%d suspicious entitlement operations in window exceeds threshold %d",
				window.SuspiciousActivities, m.cfg.SuspiciousActivityThreshold))
	}
	if m.latencySeen && window.QuotaChecks > 0 && window.AvgResponseTimeMs > m.cfg.QuotaCheckLatencyThresholdMs {
		newAlert(domain.AlertQuotaCheckLatency, domain.SeverityLow,
			fmt.Sprintf("average quota check latency %.0fms exceeds threshold %.0fms",
				window.AvgResponseTimeMs, m.cfg.QuotaCheckLatencyThresholdMs))
	}

	m.alerts = append(m.alerts, raised...)
	m.window = counters{}
	pruned := m.pruneAlertsLocked()
	m.mu.Unlock()

	for _, alert := range raised {
		m.collector.recordAlert(alert.Type)
		m.logger.Warn().
			Str("alert_id", alert.ID.String()).
			Str("type", alert.Type).
			Str("severity", string(alert.Severity)).
			Msg(alert.Message)
	}
	if pruned > 0 {
		m.logger.Debug().Int("pruned", pruned).Msg("Expired alerts pruned")
	}

	return raised
}

// pruneAlertsLocked drops alerts past retention, then the oldest beyond MaxAlerts.
func (m *Monitor) pruneAlertsLocked() int {
	before := len(m.alerts)

	if m.cfg.AlertRetention > 0 {
		cutoff := m.now().Add(-m.cfg.AlertRetention)
		kept := m.alerts[:0]
		for _, alert := range m.alerts {
			if alert.Timestamp.After(cutoff) {
				kept = append(kept, alert)
			}
		}
		m.alerts = kept
	}

	if over := len(m.alerts) - m.cfg.MaxAlerts; over > 0 {
		m.alerts = append(m.alerts[:0:0], m.alerts[over:]...)
	}

	return before - len(m.alerts)
}

func (m *Monitor) activeAlertsLocked() int {
	active := 0
	for _, alert := range m.alerts {
		if !alert.Resolved {
			active++
		}
	}
	return active
}

func (m *Monitor) ResolveAlert(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].Resolved = true
			return nil
		}
	}
	return domain.ErrAlertNotFound
}

// Alerts returns a copy of every retained alert, oldest first.
func (m *Monitor) Alerts() []domain.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Alert(nil), m.alerts...)
}
