// Package metrics defines the Prometheus metrics recorded by the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for toolgate.
// Pass to components that need to record metrics.
type Metrics struct {
	CallsTotal      *prometheus.CounterVec
	CallDuration    *prometheus.HistogramVec
	RejectionsTotal *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec
	AuditAppends    prometheus.Counter
	UsageDropsTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		CallsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "calls_total",
				Help:      "Total tool calls processed by the pipeline",
			},
			[]string{"tool", "status"}, // status=ok/error/rejected
		),
		CallDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "toolgate",
				Name:      "call_duration_seconds",
				Help:      "Tool call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		RejectionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "rejections_total",
				Help:      "Calls rejected before execution",
			},
			[]string{"stage"}, // stage=version/dependency/ratelimit/breaker
		),
		BreakerState: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "toolgate",
				Name:      "breaker_state",
				Help:      "Circuit state per service (0=closed, 1=half_open, 2=open)",
			},
			[]string{"service"},
		),
		AuditAppends: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "audit_appends_total",
				Help:      "Entries appended to the audit chain",
			},
		),
		UsageDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "usage_drops_total",
				Help:      "Usage events dropped due to backpressure",
			},
		),
	}
}
