package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	timerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "manifest",
			Subsystem: "timer",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions (start, pause, resume, reset, complete) per timer mode.",
		}, []string{"mode", "transition"},
	)
	timerRecoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "manifest",
			Subsystem: "timer",
			Name:      "recoveries_total",
			Help:      "Timers adopted from a persisted record at creation.",
		}, []string{"mode"},
	)
	recoveredGap = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "manifest",
			Subsystem: "timer",
			Name:      "recovered_gap_seconds",
			Help:      "Wall-clock time a recovered timer spent unobserved before adoption.",
			Buckets:   []float64{1, 5, 30, 60, 300, 900, 3600, 4 * 3600, 24 * 3600},
		}, []string{"mode"},
	)
	staleRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "manifest",
			Subsystem: "timer",
			Name:      "stale_records_purged_total",
			Help:      "Persisted records removed because they were stale or malformed.",
		}, []string{"mode"},
	)
	storeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "manifest",
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Key-value store failures absorbed by timers, by operation.",
		}, []string{"op"},
	)
	runningTimers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "manifest",
			Subsystem: "timer",
			Name:      "running",
			Help:      "Timers currently running (paused included) per mode.",
		}, []string{"mode"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{timerTransitions, timerRecoveries, recoveredGap, staleRecords, storeErrors, runningTimers}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func RecordTransition(mode, transition string) {
	if regOK.Load() {
		timerTransitions.WithLabelValues(mode, transition).Inc()
	}
}

func RecordRecovery(mode string, gapSeconds float64) {
	if regOK.Load() {
		timerRecoveries.WithLabelValues(mode).Inc()
		recoveredGap.WithLabelValues(mode).Observe(gapSeconds)
	}
}

func AddStaleRecords(mode string, n int) {
	if regOK.Load() && n > 0 {
		staleRecords.WithLabelValues(mode).Add(float64(n))
	}
}

func IncStoreError(op string) {
	if regOK.Load() {
		storeErrors.WithLabelValues(op).Inc()
	}
}

// AddRunning moves the running gauge for mode by delta (+1 / -1).
func AddRunning(mode string, delta int) {
	if regOK.Load() {
		runningTimers.WithLabelValues(mode).Add(float64(delta))
	}
}
