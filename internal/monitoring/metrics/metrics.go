// Package metrics exposes the monitor's own operational counters via
// Prometheus. A process normally holds a single Metrics instance created in
// main and threaded through the component constructors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the self-observability instruments for the pipeline.
type Metrics struct {
	PointsRecorded     *prometheus.CounterVec
	PointsEvicted      prometheus.Counter
	AlertsFired        *prometheus.CounterVec
	AlertsResolved     prometheus.Counter
	NotificationsSent  *prometheus.CounterVec
	NotifyErrors       *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	CollectorErrors    *prometheus.CounterVec
	ConnectedClients   prometheus.Gauge
}

// New registers the instruments on the given registerer. Pass
// prometheus.DefaultRegisterer in main; tests use a fresh registry so that
// parallel tests never collide on metric names.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PointsRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perfwatch_points_recorded_total",
				Help: "Total number of metric points recorded, per metric name",
			},
			[]string{"metric"},
		),
		PointsEvicted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "perfwatch_points_evicted_total",
				Help: "Total number of points dropped by capacity or retention",
			},
		),
		AlertsFired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perfwatch_alerts_fired_total",
				Help: "Total number of alerts fired, per rule",
			},
			[]string{"rule"},
		),
		AlertsResolved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "perfwatch_alerts_resolved_total",
				Help: "Total number of alerts resolved",
			},
		),
		NotificationsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perfwatch_notifications_sent_total",
				Help: "Total number of notifications delivered, per channel",
			},
			[]string{"channel"},
		),
		NotifyErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perfwatch_notify_errors_total",
				Help: "Total number of failed notification sends, per channel",
			},
			[]string{"channel"},
		),
		EvaluationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "perfwatch_evaluation_duration_seconds",
				Help:    "Duration of alert rule evaluation per point",
				Buckets: prometheus.DefBuckets,
			},
		),
		CollectorErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perfwatch_collector_errors_total",
				Help: "Total number of collector failures, per collector",
			},
			[]string{"collector"},
		),
		ConnectedClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "perfwatch_dashboard_clients",
				Help: "Number of connected dashboard WebSocket clients",
			},
		),
	}
}

// Nop returns a Metrics instance backed by a throwaway registry, for tests
// and for components constructed without wiring.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
