// Package metrics exposes the prometheus instruments for engine
// operations, registered lazily on first use.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type engineMetrics struct {
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	controller *prometheus.HistogramVec
}

var (
	engineOnce     sync.Once
	engineRegistry *engineMetrics
)

// Engine returns the lazily-initialised engine metrics registry.
func Engine() *engineMetrics {
	engineOnce.Do(func() {
		engineRegistry = &engineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stab",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Total engine operations segmented by kind and outcome.",
			}, []string{"operation", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stab",
				Subsystem: "engine",
				Name:      "failures_total",
				Help:      "Total engine operation failures segmented by kind and error.",
			}, []string{"operation", "error"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stab",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			controller: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stab",
				Subsystem: "controller",
				Name:      "update_duration_seconds",
				Help:      "Latency distribution for price-controller update steps.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"step"}),
		}
		prometheus.MustRegister(
			engineRegistry.operations,
			engineRegistry.failures,
			engineRegistry.duration,
			engineRegistry.controller,
		)
	})
	return engineRegistry
}

// ObserveOperation records one completed engine operation: open_cdp,
// top_up_cdp, remove_collateral, partial_close_cdp, borrow_more, close_cdp,
// retrieve_leftover_collateral, mark_for_liquidation, liquidate_with_marker,
// liquidate_without_marker, force_liquidate, force_mint, controller_update.
func (m *engineMetrics) ObserveOperation(operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.failures.WithLabelValues(operation, errorLabel(err)).Inc()
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveControllerStep records one controller update step's latency.
func (m *engineMetrics) ObserveControllerStep(step string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.controller.WithLabelValues(step).Observe(elapsed.Seconds())
}

func errorLabel(err error) string {
	if err == nil {
		return "none"
	}
	return err.Error()
}
