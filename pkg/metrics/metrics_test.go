package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewManager(t *testing.T) {
	m := NewManager(DefaultConfig())
	if m == nil {
		t.Fatal("NewManager returned nil")
	}
	if !m.Enabled() {
		t.Error("Expected metrics to be enabled")
	}
	if m.Registry() == nil {
		t.Error("Expected a registry when enabled")
	}
}

func TestNewManager_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	m := NewManager(cfg)
	if m.Enabled() {
		t.Error("Expected metrics to be disabled")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.SetStoreSizes(3, 10, 2)
	m.RecordConsolidation("ok", 0.02, 1, 2, 4, 1)
	m.RecordPersistenceFailure("save_episodic")
	m.RecordMirror("dropped")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	expectedMetrics := []string{
		"hmem_store_items",
		"hmem_consolidation_runs_total",
		"hmem_consolidation_duration_seconds",
		"hmem_consolidation_knowledge_total",
		"hmem_episodes_pruned_total",
		"hmem_consolidation_groups_skipped_total",
		"hmem_persistence_failures_total",
		"hmem_mirror_calls_total",
	}
	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("Expected metric %s not found in output", metric)
		}
	}
}

func TestRecordConsolidation_Values(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.RecordConsolidation("ok", 0.5, 2, 1, 3, 0)
	m.RecordConsolidation("cancelled", 0.1, 1, 0, 0, 2)

	if got := testutil.ToFloat64(m.consolidationRuns.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.consolidationRecords.WithLabelValues("created")); got != 3 {
		t.Errorf("created = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.consolidationPruned); got != 3 {
		t.Errorf("pruned = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.consolidationSkipped); got != 2 {
		t.Errorf("skipped = %v, want 2", got)
	}
}

func TestSetStoreSizes(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.SetStoreSizes(7, 42, 5)
	m.SetStoreSizes(8, 40, 5)

	if got := testutil.ToFloat64(m.storeItems.WithLabelValues("working")); got != 8 {
		t.Errorf("working = %v, want 8", got)
	}
	if got := testutil.ToFloat64(m.storeItems.WithLabelValues("episodic")); got != 40 {
		t.Errorf("episodic = %v, want 40", got)
	}
}

func TestMetricsHandler_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	m := NewManager(cfg)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 when disabled, got %d", w.Code)
	}
}

func TestNoOpManager(t *testing.T) {
	m := NoOpManager()
	if m.Enabled() {
		t.Error("NoOpManager should not be enabled")
	}

	// These should not panic
	m.SetStoreSizes(1, 2, 3)
	m.RecordConsolidation("ok", 1, 1, 1, 1, 1)
	m.RecordPersistenceFailure("load")
	m.RecordMirror("ok")
	m.RecordHTTPRequest(context.Background(), "GET", "/healthz", "200", 0)
}

func BenchmarkRecordConsolidation(b *testing.B) {
	m := NewManager(DefaultConfig())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordConsolidation("ok", 0.01, 1, 1, 0, 0)
	}
}

func BenchmarkRecordMirror(b *testing.B) {
	m := NewManager(DefaultConfig())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordMirror("ok")
	}
}

func BenchmarkRecordMetrics_Disabled(b *testing.B) {
	m := NoOpManager()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordConsolidation("ok", 0.01, 1, 1, 0, 0)
		m.SetStoreSizes(1, 1, 1)
	}
}
