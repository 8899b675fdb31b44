package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports the monitor's counters to Prometheus.
type Collector struct {
	quotaChecks        *prometheus.CounterVec
	quotaCheckDuration prometheus.Histogram
	cartOperations     *prometheus.CounterVec
	suspicious         prometheus.Counter
	alertsRaised       *prometheus.CounterVec
	activeAlerts       prometheus.Gauge
	avgResponseTime    prometheus.Gauge
	running            prometheus.Gauge
}

// NewCollector registers the quota metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		quotaChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "photoquota",
				Subsystem: "admission",
				Name:      "quota_checks_total",
				Help:      "Total upload admission checks by outcome",
			},
			[]string{"outcome"},
		),
		quotaCheckDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "photoquota",
				Subsystem: "admission",
				Name:      "quota_check_duration_seconds",
				Help:      "Upload admission check latency",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		),
		cartOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "photoquota",
				Subsystem: "billing",
				Name:      "cart_operations_total",
				Help:      "Total entitlement operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		suspicious: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "photoquota",
				Subsystem: "billing",
				Name:      "suspicious_activities_total",
				Help:      "Total entitlement operations flagged as suspicious",
			},
		),
		alertsRaised: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "photoquota",
				Subsystem: "monitoring",
				Name:      "alerts_raised_total",
				Help:      "Total alerts raised by type",
			},
			[]string{"type"},
		),
		activeAlerts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "photoquota",
				Subsystem: "monitoring",
				Name:      "active_alerts",
				Help:      "Unresolved alerts currently retained",
			},
		),
		avgResponseTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "photoquota",
				Subsystem: "monitoring",
				Name:      "avg_quota_check_ms",
				Help:      "Exponential moving average of admission check latency in milliseconds",
			},
		),
		running: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "photoquota",
				Subsystem: "monitoring",
				Name:      "running",
				Help:      "1 while the monitoring scheduler is running",
			},
		),
	}

	reg.MustRegister(
		c.quotaChecks,
		c.quotaCheckDuration,
		c.cartOperations,
		c.suspicious,
		c.alertsRaised,
		c.activeAlerts,
		c.avgResponseTime,
		c.running,
	)

	return c
}

func (c *Collector) recordQuotaCheck(outcome string, responseTimeMs float64) {
	c.quotaChecks.WithLabelValues(outcome).Inc()
	c.quotaCheckDuration.Observe(responseTimeMs / 1000)
}

func (c *Collector) recordCartOperation(operation, outcome string, suspicious bool) {
	c.cartOperations.WithLabelValues(operation, outcome).Inc()
	if suspicious {
		c.suspicious.Inc()
	}
}

func (c *Collector) recordAlert(alertType string) {
	c.alertsRaised.WithLabelValues(alertType).Inc()
}

func (c *Collector) setSnapshot(avgResponseMs float64, activeAlerts int) {
	c.avgResponseTime.Set(avgResponseMs)
	c.activeAlerts.Set(float64(activeAlerts))
}

func (c *Collector) setRunning(running bool) {
	if running {
		c.running.Set(1)
		return
	}
	c.running.Set(0)
}
