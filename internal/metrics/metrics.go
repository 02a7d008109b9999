package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "appmgr"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	appActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "actions_total",
			Help:      "Start, stop and restart requests by outcome.",
		}, []string{"name", "action", "result"},
	)
	appUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "up",
			Help:      "1 when the application's PID record points at a live process.",
		}, []string{"name"},
	)
	appMemoryRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "memory_rss_bytes",
			Help:      "Resident set size of the application's main process.",
		}, []string{"name"},
	)
	appCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "cpu_percent",
			Help:      "CPU usage of the application's main process.",
		}, []string{"name"},
	)
	healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Completed health checks by kind and resulting status.",
		}, []string{"name", "kind", "status"},
	)
	healthCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "check_duration_seconds",
			Help:      "Wall time of health checks.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name", "kind"},
	)
	scriptRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "script",
			Name:      "runs_total",
			Help:      "Script executions by batch and outcome (ok, failed, timeout).",
		}, []string{"batch", "result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{appActions, appUp, appMemoryRSS, appCPUPercent, healthChecks, healthCheckDuration, scriptRuns}
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

// Enabled reports whether Register has succeeded.
func Enabled() bool { return regOK.Load() }

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncAction(name, action string, ok bool) {
	if regOK.Load() {
		appActions.WithLabelValues(name, action, outcome(ok)).Inc()
	}
}

func SetUp(name string, up bool) {
	if regOK.Load() {
		v := 0.0
		if up {
			v = 1
		}
		appUp.WithLabelValues(name).Set(v)
	}
}

func ObserveHealthCheck(name, kind, status string, seconds float64) {
	if regOK.Load() {
		healthChecks.WithLabelValues(name, kind, status).Inc()
		healthCheckDuration.WithLabelValues(name, kind).Observe(seconds)
	}
}

// IncScriptRun counts a script execution; result is ok, failed or timeout.
func IncScriptRun(batch, result string) {
	if regOK.Load() {
		scriptRuns.WithLabelValues(batch, result).Inc()
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
