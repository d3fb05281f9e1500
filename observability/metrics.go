package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics
)

// ModuleMetrics returns the lazily-initialised metrics registry used to
// record escrow RPC and gateway activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "safehands",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "safehands",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total errors segmented by module, method, and reason.",
			}, []string{"module", "method", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "safehands",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
		}
		prometheus.MustRegister(moduleRegistry.requests, moduleRegistry.errors, moduleRegistry.latency)
	})
	return moduleRegistry
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}

// ObserveRequest records one handled request with its outcome.
func (m *moduleMetrics) ObserveRequest(module, method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	module = normalizeLabel(module)
	method = normalizeLabel(method)
	m.requests.WithLabelValues(module, method, normalizeLabel(outcome)).Inc()
	m.latency.WithLabelValues(module, method).Observe(elapsed.Seconds())
}

// ObserveError records a rejected request with its reason label.
func (m *moduleMetrics) ObserveError(module, method, reason string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(normalizeLabel(module), normalizeLabel(method), normalizeLabel(reason)).Inc()
}
