// Package metrics tracks operational counters and produces the
// periodic per-account trading digest.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus holds the process-level counters exported on /metrics.
type Prometheus struct {
	TriggersScanned prometheus.Counter
	TriggersFired   *prometheus.CounterVec
	OrdersExecuted  *prometheus.CounterVec
	StoreConflicts  prometheus.Counter
	EventsDropped   *prometheus.CounterVec
	ScanErrors      prometheus.Counter
}

// NewPrometheus registers the counter set on the default registry.
func NewPrometheus() *Prometheus {
	return &Prometheus{
		TriggersScanned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "hedgie",
			Name:      "triggers_scanned_total",
			Help:      "Standing triggers visited by scan passes.",
		}),
		TriggersFired: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hedgie",
			Name:      "triggers_fired_total",
			Help:      "Triggers that met their condition, by reason.",
		}, []string{"reason"}),
		OrdersExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hedgie",
			Name:      "orders_executed_total",
			Help:      "Orders placed on the venue, by side.",
		}, []string{"side"}),
		StoreConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "hedgie",
			Name:      "store_version_conflicts_total",
			Help:      "Conditional account writes rejected on a stale version.",
		}),
		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hedgie",
			Name:      "events_dropped_total",
			Help:      "Bus deliveries abandoned after exhausting retries.",
		}, []string{"topic"}),
		ScanErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "hedgie",
			Name:      "scan_errors_total",
			Help:      "Scan passes that returned an error.",
		}),
	}
}
