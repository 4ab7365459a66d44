package storage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/goclaw/hmem/pkg/memory"
)

// PersisterTestSuite defines a test suite that can be run against any
// Persister implementation.
type PersisterTestSuite struct {
	NewPersister func(t *testing.T) Persister
}

// RunAllTests runs all persister tests against the provided implementation.
func (s *PersisterTestSuite) RunAllTests(t *testing.T) {
	t.Run("EmptyLoad", s.TestEmptyLoad)
	t.Run("EpisodicRoundTrip", s.TestEpisodicRoundTrip)
	t.Run("SemanticRoundTrip", s.TestSemanticRoundTrip)
	t.Run("SaveReplacesSnapshot", s.TestSaveReplacesSnapshot)
	t.Run("SaveEmptyClears", s.TestSaveEmptyClears)
	t.Run("TiersAreIndependent", s.TestTiersAreIndependent)
	t.Run("ConcurrentSaves", s.TestConcurrentSaves)
	t.Run("EngineRestoresContent", s.TestEngineRestoresContent)
}

// SampleEpisodes returns episodes exercising every persisted field.
func SampleEpisodes() []*memory.Episode {
	base := time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)
	return []*memory.Episode{
		{
			ID:          "ep-1",
			Category:    memory.CategoryToolExecution,
			Description: "ran the deploy script",
			Content: map[string]any{
				"command":  "make deploy",
				"exit":     int64(0),
				"bytes":    int64(9007199254740993),
				"ratio":    0.25,
				"verified": true,
				"steps":    []any{"build", int64(2), map[string]any{"retries": int64(1)}},
			},
			Timestamp:          base,
			Success:            true,
			EmotionalValence:   0.8,
			Importance:         0.9,
			ConsolidationCount: 2,
			Tags:               []string{"deploy", "shell"},
		},
		{
			ID:               "ep-2",
			Category:         memory.CategoryReflection,
			Description:      "review of a failed migration",
			Timestamp:        base.Add(90 * time.Minute),
			Success:          false,
			EmotionalValence: -0.6,
			Importance:       0.4,
		},
	}
}

// SampleKnowledge returns knowledge exercising every persisted field.
func SampleKnowledge() []*memory.SemanticKnowledge {
	created := time.Date(2025, 3, 15, 12, 0, 0, 123456000, time.UTC)
	return []*memory.SemanticKnowledge{
		{
			ID:             "k-1",
			Concept:        "Deploy Pattern",
			Description:    "deploys succeed when run from a clean tree",
			Confidence:     0.85,
			SourceEpisodes: []string{"ep-1", "ep-3"},
			CreatedAt:      created,
			LastReinforced: created.Add(time.Hour),
			UsageCount:     4,
			Tags:           []string{"deploy", "tool_execution"},
		},
		{
			ID:             "k-2",
			Concept:        "Migration Pattern",
			Description:    "migrations are problematic",
			Confidence:     0.7,
			CreatedAt:      created.Add(time.Minute),
			LastReinforced: created.Add(time.Minute),
		},
	}
}

// TestEmptyLoad verifies that a fresh backend loads nothing.
func (s *PersisterTestSuite) TestEmptyLoad(t *testing.T) {
	p := s.NewPersister(t)
	defer p.Close()
	ctx := context.Background()

	episodes, err := p.LoadEpisodic(ctx)
	if err != nil {
		t.Fatalf("LoadEpisodic failed: %v", err)
	}
	if len(episodes) != 0 {
		t.Errorf("expected no episodes, got %d", len(episodes))
	}

	knowledge, err := p.LoadSemantic(ctx)
	if err != nil {
		t.Fatalf("LoadSemantic failed: %v", err)
	}
	if len(knowledge) != 0 {
		t.Errorf("expected no knowledge, got %d", len(knowledge))
	}
}

// TestEpisodicRoundTrip verifies that loaded episodes equal saved ones.
func (s *PersisterTestSuite) TestEpisodicRoundTrip(t *testing.T) {
	p := s.NewPersister(t)
	defer p.Close()
	ctx := context.Background()

	want := SampleEpisodes()
	if err := p.SaveEpisodic(ctx, want); err != nil {
		t.Fatalf("SaveEpisodic failed: %v", err)
	}
	got, err := p.LoadEpisodic(ctx)
	if err != nil {
		t.Fatalf("LoadEpisodic failed: %v", err)
	}
	if err := EqualEpisodes(want, got); err != nil {
		t.Error(err)
	}
}

// TestSemanticRoundTrip verifies that loaded knowledge equals saved records.
func (s *PersisterTestSuite) TestSemanticRoundTrip(t *testing.T) {
	p := s.NewPersister(t)
	defer p.Close()
	ctx := context.Background()

	want := SampleKnowledge()
	if err := p.SaveSemantic(ctx, want); err != nil {
		t.Fatalf("SaveSemantic failed: %v", err)
	}
	got, err := p.LoadSemantic(ctx)
	if err != nil {
		t.Fatalf("LoadSemantic failed: %v", err)
	}
	if err := EqualKnowledge(want, got); err != nil {
		t.Error(err)
	}
}

// TestSaveReplacesSnapshot verifies that records missing from a later save
// are gone.
func (s *PersisterTestSuite) TestSaveReplacesSnapshot(t *testing.T) {
	p := s.NewPersister(t)
	defer p.Close()
	ctx := context.Background()

	episodes := SampleEpisodes()
	if err := p.SaveEpisodic(ctx, episodes); err != nil {
		t.Fatalf("SaveEpisodic failed: %v", err)
	}
	episodes[0].ConsolidationCount = 5
	if err := p.SaveEpisodic(ctx, episodes[:1]); err != nil {
		t.Fatalf("SaveEpisodic failed: %v", err)
	}

	got, err := p.LoadEpisodic(ctx)
	if err != nil {
		t.Fatalf("LoadEpisodic failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 episode after replacement, got %d", len(got))
	}
	if got[0].ID != "ep-1" || got[0].ConsolidationCount != 5 {
		t.Errorf("expected updated ep-1, got %+v", got[0])
	}

	knowledge := SampleKnowledge()
	if err := p.SaveSemantic(ctx, knowledge); err != nil {
		t.Fatalf("SaveSemantic failed: %v", err)
	}
	if err := p.SaveSemantic(ctx, knowledge[1:]); err != nil {
		t.Fatalf("SaveSemantic failed: %v", err)
	}
	loaded, err := p.LoadSemantic(ctx)
	if err != nil {
		t.Fatalf("LoadSemantic failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "k-2" {
		t.Errorf("expected only k-2 after replacement, got %d records", len(loaded))
	}
}

// TestSaveEmptyClears verifies that saving an empty snapshot clears the tier.
func (s *PersisterTestSuite) TestSaveEmptyClears(t *testing.T) {
	p := s.NewPersister(t)
	defer p.Close()
	ctx := context.Background()

	if err := p.SaveEpisodic(ctx, SampleEpisodes()); err != nil {
		t.Fatalf("SaveEpisodic failed: %v", err)
	}
	if err := p.SaveEpisodic(ctx, nil); err != nil {
		t.Fatalf("SaveEpisodic(nil) failed: %v", err)
	}
	got, err := p.LoadEpisodic(ctx)
	if err != nil {
		t.Fatalf("LoadEpisodic failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty tier, got %d episodes", len(got))
	}
}

// TestTiersAreIndependent verifies that saving one tier leaves the other.
func (s *PersisterTestSuite) TestTiersAreIndependent(t *testing.T) {
	p := s.NewPersister(t)
	defer p.Close()
	ctx := context.Background()

	if err := p.SaveSemantic(ctx, SampleKnowledge()); err != nil {
		t.Fatalf("SaveSemantic failed: %v", err)
	}
	if err := p.SaveEpisodic(ctx, nil); err != nil {
		t.Fatalf("SaveEpisodic failed: %v", err)
	}
	got, err := p.LoadSemantic(ctx)
	if err != nil {
		t.Fatalf("LoadSemantic failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected semantic tier untouched, got %d records", len(got))
	}
}

// TestConcurrentSaves verifies that concurrent saves leave one complete
// snapshot.
func (s *PersisterTestSuite) TestConcurrentSaves(t *testing.T) {
	p := s.NewPersister(t)
	defer p.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.SaveEpisodic(ctx, SampleEpisodes()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent save failed: %v", err)
	}

	got, err := p.LoadEpisodic(ctx)
	if err != nil {
		t.Fatalf("LoadEpisodic failed: %v", err)
	}
	if err := EqualEpisodes(SampleEpisodes(), got); err != nil {
		t.Error(err)
	}
}

// TestEngineRestoresContent verifies that an engine restarted on the backend
// sees the same episode content it recorded, including integers beyond
// float64 precision.
func (s *PersisterTestSuite) TestEngineRestoresContent(t *testing.T) {
	p := s.NewPersister(t)
	defer p.Close()
	ctx := context.Background()

	first := memory.New(nil, memory.WithPersister(p))
	recorded, err := first.AddEpisode(ctx, memory.EpisodeInput{
		ID:          "ep-content",
		Category:    memory.CategoryToolExecution,
		Description: "copied a large file",
		Content: map[string]any{
			"exit_code": 0,
			"bytes":     int64(9007199254740993),
			"took":      1.5,
			"args":      []string{"-r", "src"},
		},
	})
	if err != nil {
		t.Fatalf("AddEpisode failed: %v", err)
	}
	if err := first.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	second := memory.New(nil, memory.WithPersister(p))
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	restored, ok := second.GetEpisode("ep-content")
	if !ok {
		t.Fatal("episode missing after load")
	}
	if !reflect.DeepEqual(recorded.Content, restored.Content) {
		t.Errorf("content changed across restart: before %#v, after %#v", recorded.Content, restored.Content)
	}
	if got := restored.Content["bytes"]; got != int64(9007199254740993) {
		t.Errorf("expected bytes int64(9007199254740993), got %#v", got)
	}
	if got := restored.Content["exit_code"]; got != int64(0) {
		t.Errorf("expected exit_code int64(0), got %#v", got)
	}
}

// EqualEpisodes compares two snapshots by id, field by field. Times are
// compared with time.Equal.
func EqualEpisodes(want, got []*memory.Episode) error {
	if len(want) != len(got) {
		return fmt.Errorf("expected %d episodes, got %d", len(want), len(got))
	}
	byID := make(map[string]*memory.Episode, len(got))
	for _, ep := range got {
		byID[ep.ID] = ep
	}
	var errs []error
	for _, w := range want {
		g, ok := byID[w.ID]
		if !ok {
			errs = append(errs, fmt.Errorf("episode %s missing", w.ID))
			continue
		}
		if !w.Timestamp.Equal(g.Timestamp) {
			errs = append(errs, fmt.Errorf("episode %s timestamp: want %v, got %v", w.ID, w.Timestamp, g.Timestamp))
		}
		wc, gc := *w, *g
		wc.Timestamp, gc.Timestamp = time.Time{}, time.Time{}
		if !reflect.DeepEqual(normalizeEpisode(wc), normalizeEpisode(gc)) {
			errs = append(errs, fmt.Errorf("episode %s: want %+v, got %+v", w.ID, wc, gc))
		}
	}
	return errors.Join(errs...)
}

// EqualKnowledge compares two snapshots by id, field by field.
func EqualKnowledge(want, got []*memory.SemanticKnowledge) error {
	if len(want) != len(got) {
		return fmt.Errorf("expected %d records, got %d", len(want), len(got))
	}
	byID := make(map[string]*memory.SemanticKnowledge, len(got))
	for _, k := range got {
		byID[k.ID] = k
	}
	var errs []error
	for _, w := range want {
		g, ok := byID[w.ID]
		if !ok {
			errs = append(errs, fmt.Errorf("knowledge %s missing", w.ID))
			continue
		}
		if !w.CreatedAt.Equal(g.CreatedAt) || !w.LastReinforced.Equal(g.LastReinforced) {
			errs = append(errs, fmt.Errorf("knowledge %s times differ", w.ID))
		}
		wc, gc := *w, *g
		wc.CreatedAt, gc.CreatedAt = time.Time{}, time.Time{}
		wc.LastReinforced, gc.LastReinforced = time.Time{}, time.Time{}
		if len(wc.SourceEpisodes) == 0 && len(gc.SourceEpisodes) == 0 {
			wc.SourceEpisodes, gc.SourceEpisodes = nil, nil
		}
		if len(wc.Tags) == 0 && len(gc.Tags) == 0 {
			wc.Tags, gc.Tags = nil, nil
		}
		if !reflect.DeepEqual(wc, gc) {
			errs = append(errs, fmt.Errorf("knowledge %s: want %+v, got %+v", w.ID, wc, gc))
		}
	}
	return errors.Join(errs...)
}

// normalizeEpisode treats nil and empty collections alike.
func normalizeEpisode(ep memory.Episode) memory.Episode {
	if len(ep.Content) == 0 {
		ep.Content = nil
	}
	if len(ep.Tags) == 0 {
		ep.Tags = nil
	}
	return ep
}
