// Package metrics provides Prometheus metrics instrumentation for hmem.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager manages all Prometheus metrics for hmem.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Memory store metrics
	storeItems *prometheus.GaugeVec

	// Consolidation metrics
	consolidationRuns     *prometheus.CounterVec
	consolidationDuration prometheus.Histogram
	consolidationRecords  *prometheus.CounterVec
	consolidationPruned   prometheus.Counter
	consolidationSkipped  prometheus.Counter

	// Persistence and mirror metrics
	persistenceFailures *prometheus.CounterVec
	mirrorCalls         *prometheus.CounterVec

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled   bool
	Namespace string
	Port      int
	Path      string

	// Histogram bucket configurations
	ConsolidationDurationBuckets []float64
	HTTPDurationBuckets          []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:                      true,
		Namespace:                    "hmem",
		Port:                         9091,
		Path:                         "/metrics",
		ConsolidationDurationBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		HTTPDurationBuckets:          []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}
}

// NewManager creates a new metrics manager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}
	if len(cfg.ConsolidationDurationBuckets) == 0 {
		cfg.ConsolidationDurationBuckets = DefaultConfig().ConsolidationDurationBuckets
	}
	if len(cfg.HTTPDurationBuckets) == 0 {
		cfg.HTTPDurationBuckets = DefaultConfig().HTTPDurationBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		enabled:  true,
	}

	m.initMemoryMetrics(cfg)
	m.initHTTPMetrics(cfg)

	return m
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Registry exposes the underlying registry, nil when disabled.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// NoOpManager returns a no-op metrics manager for when metrics are disabled.
func NoOpManager() *Manager {
	return &Manager{enabled: false}
}
