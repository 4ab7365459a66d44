package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// initMemoryMetrics initializes store, consolidation, persistence and
// mirror metrics.
func (m *Manager) initMemoryMetrics(cfg Config) {
	m.storeItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "store_items",
			Help:      "Current number of items per memory tier",
		},
		[]string{"tier"},
	)

	m.consolidationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "consolidation_runs_total",
			Help:      "Total number of consolidation passes by outcome",
		},
		[]string{"outcome"},
	)

	m.consolidationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "consolidation_duration_seconds",
			Help:      "Consolidation pass duration in seconds",
			Buckets:   cfg.ConsolidationDurationBuckets,
		},
	)

	m.consolidationRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "consolidation_knowledge_total",
			Help:      "Knowledge records promoted by consolidation",
		},
		[]string{"result"},
	)

	m.consolidationPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "episodes_pruned_total",
			Help:      "Episodes pruned at the end of consolidation passes",
		},
	)

	m.consolidationSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "consolidation_groups_skipped_total",
			Help:      "Tag groups skipped because their pattern could not be built",
		},
	)

	m.persistenceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "persistence_failures_total",
			Help:      "Failed persistence operations",
		},
		[]string{"operation"},
	)

	m.mirrorCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "mirror_calls_total",
			Help:      "Knowledge mirror deliveries by outcome",
		},
		[]string{"outcome"},
	)

	m.registry.MustRegister(
		m.storeItems,
		m.consolidationRuns,
		m.consolidationDuration,
		m.consolidationRecords,
		m.consolidationPruned,
		m.consolidationSkipped,
		m.persistenceFailures,
		m.mirrorCalls,
	)
}

// SetStoreSizes records the current size of each tier.
func (m *Manager) SetStoreSizes(working, episodic, semantic int) {
	if !m.enabled {
		return
	}
	m.storeItems.WithLabelValues("working").Set(float64(working))
	m.storeItems.WithLabelValues("episodic").Set(float64(episodic))
	m.storeItems.WithLabelValues("semantic").Set(float64(semantic))
}

// RecordConsolidation records a finished or cancelled consolidation pass.
func (m *Manager) RecordConsolidation(outcome string, seconds float64, created, reinforced, pruned, skipped int) {
	if !m.enabled {
		return
	}
	m.consolidationRuns.WithLabelValues(outcome).Inc()
	m.consolidationDuration.Observe(seconds)
	m.consolidationRecords.WithLabelValues("created").Add(float64(created))
	m.consolidationRecords.WithLabelValues("reinforced").Add(float64(reinforced))
	m.consolidationPruned.Add(float64(pruned))
	m.consolidationSkipped.Add(float64(skipped))
}

// RecordPersistenceFailure counts a failed load or save.
func (m *Manager) RecordPersistenceFailure(operation string) {
	if !m.enabled {
		return
	}
	m.persistenceFailures.WithLabelValues(operation).Inc()
}

// RecordMirror counts a mirror delivery outcome (ok, error, dropped).
func (m *Manager) RecordMirror(outcome string) {
	if !m.enabled {
		return
	}
	m.mirrorCalls.WithLabelValues(outcome).Inc()
}
