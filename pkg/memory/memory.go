// Package memory implements a three-tier memory engine: a bounded working
// memory, a decaying episodic store and a confidence-weighted semantic store,
// joined by a consolidation pass that promotes recurring episodes into
// semantic knowledge.
package memory

import "context"

// Persister loads and saves full snapshots of the episodic and semantic
// stores. Save replaces whatever was previously stored.
type Persister interface {
	LoadEpisodic(ctx context.Context) ([]*Episode, error)
	SaveEpisodic(ctx context.Context, episodes []*Episode) error
	LoadSemantic(ctx context.Context) ([]*SemanticKnowledge, error)
	SaveSemantic(ctx context.Context, knowledge []*SemanticKnowledge) error
}

// VectorIndex receives a best-effort mirror of semantic knowledge.
type VectorIndex interface {
	Mirror(ctx context.Context, id, concept, description string, tags []string) error
}

// TextSearcher is implemented by vector indexes that can answer free-text
// queries with knowledge ids, best match first.
type TextSearcher interface {
	Search(ctx context.Context, text string, limit int) ([]string, error)
}

// MetricsRecorder receives engine measurements.
type MetricsRecorder interface {
	SetStoreSizes(working, episodic, semantic int)
	RecordConsolidation(outcome string, seconds float64, created, reinforced, pruned, skipped int)
	RecordPersistenceFailure(operation string)
	RecordMirror(outcome string)
}

// memLogger is the minimal logger interface used by the engine.
type memLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type nopMetrics struct{}

func (nopMetrics) SetStoreSizes(int, int, int)                             {}
func (nopMetrics) RecordConsolidation(string, float64, int, int, int, int) {}
func (nopMetrics) RecordPersistenceFailure(string)                         {}
func (nopMetrics) RecordMirror(string)                                     {}
