// Package metrics holds the Prometheus collectors for reconciliation, generation
// and debouncing. Collectors register with the default registry on import.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mdblog"

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeNoop    = "noop"
)

var (
	ReconcileFlowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "flows_total",
			Help:      "Reconciliation flows run, by flow and outcome",
		},
		[]string{"flow", "outcome"},
	)

	ReconcileFlowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "flow_duration_seconds",
			Help:      "Reconciliation flow duration in seconds",
			Buckets:   []float64{.005, .025, .1, .5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"flow"},
	)

	GenerationAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "attempts_total",
			Help:      "Generator calls, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	DebounceCoalescedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "debounce",
			Name:      "coalesced_total",
			Help:      "Notifications that restarted a pending timer instead of scheduling a new one",
		},
	)

	ScanItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "items_total",
			Help:      "Items visited by full scans, by the action taken",
		},
		[]string{"action"},
	)
)

// ObserveFlow records one finished reconciliation flow.
func ObserveFlow(flow, outcome string, elapsed time.Duration) {
	ReconcileFlowsTotal.WithLabelValues(flow, outcome).Inc()
	ReconcileFlowDuration.WithLabelValues(flow).Observe(elapsed.Seconds())
}

// ObserveGenerationAttempt records one call into the text generator.
func ObserveGenerationAttempt(kind string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	GenerationAttemptsTotal.WithLabelValues(kind, outcome).Inc()
}

func ObserveScanItem(action string) {
	ScanItemsTotal.WithLabelValues(action).Inc()
}
