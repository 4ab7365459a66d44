package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakePersister struct {
	mu        sync.Mutex
	episodes  []*Episode
	knowledge []*SemanticKnowledge
	saves     int
	loadErr   error
	saveErr   error
}

func (p *fakePersister) LoadEpisodic(context.Context) ([]*Episode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	return cloneEpisodes(p.episodes), nil
}

func (p *fakePersister) SaveEpisodic(_ context.Context, episodes []*Episode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	if p.saveErr != nil {
		return p.saveErr
	}
	p.episodes = cloneEpisodes(episodes)
	return nil
}

func (p *fakePersister) LoadSemantic(context.Context) ([]*SemanticKnowledge, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	return cloneKnowledge(p.knowledge), nil
}

func (p *fakePersister) SaveSemantic(_ context.Context, knowledge []*SemanticKnowledge) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	p.knowledge = cloneKnowledge(knowledge)
	return nil
}

func (p *fakePersister) saveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

func cloneEpisodes(in []*Episode) []*Episode {
	out := make([]*Episode, len(in))
	for i, ep := range in {
		out[i] = ep.Clone()
	}
	return out
}

func cloneKnowledge(in []*SemanticKnowledge) []*SemanticKnowledge {
	out := make([]*SemanticKnowledge, len(in))
	for i, k := range in {
		out[i] = k.Clone()
	}
	return out
}

type mirrorCall struct {
	id      string
	concept string
	tags    []string
}

type fakeVectorIndex struct {
	mu      sync.Mutex
	calls   []mirrorCall
	fail    bool
	block   chan struct{}
	results []string
	called  chan string
}

func newFakeVectorIndex() *fakeVectorIndex {
	return &fakeVectorIndex{called: make(chan string, 64)}
}

func (f *fakeVectorIndex) Mirror(ctx context.Context, id, concept, _ string, tags []string) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, mirrorCall{id: id, concept: concept, tags: tags})
	fail := f.fail
	f.mu.Unlock()

	select {
	case f.called <- id:
	default:
	}
	if fail {
		return errors.New("index unavailable")
	}
	return nil
}

func (f *fakeVectorIndex) mirrored() []mirrorCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mirrorCall(nil), f.calls...)
}

// searchingIndex is a fakeVectorIndex that also answers free-text queries.
type searchingIndex struct {
	*fakeVectorIndex
}

func (s searchingIndex) Search(context.Context, string, int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.results...), nil
}

type fakeMetrics struct {
	mu              sync.Mutex
	sizes           [3]int
	consolidations  map[string]int
	persistFailures map[string]int
	mirrors         map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		consolidations:  make(map[string]int),
		persistFailures: make(map[string]int),
		mirrors:         make(map[string]int),
	}
}

func (m *fakeMetrics) SetStoreSizes(working, episodic, semantic int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes = [3]int{working, episodic, semantic}
}

func (m *fakeMetrics) RecordConsolidation(outcome string, _ float64, _, _, _, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consolidations[outcome]++
}

func (m *fakeMetrics) RecordPersistenceFailure(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistFailures[op]++
}

func (m *fakeMetrics) RecordMirror(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mirrors[outcome]++
}

func (m *fakeMetrics) mirrorCount(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mirrors[outcome]
}

func setMemoryTracingProvider(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	prev := otel.GetTracerProvider()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return recorder
}

func endedSpanNames(recorder *tracetest.SpanRecorder) []string {
	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	return names
}

// eligibleEpisode builds an input that becomes eligible for consolidation
// an hour after it is recorded.
func eligibleEpisode(id string, category Category, success bool, tags ...string) EpisodeInput {
	return EpisodeInput{
		ID:               id,
		Category:         category,
		Description:      "episode " + id,
		Success:          success,
		EmotionalValence: 0.8,
		Importance:       0.6,
		Tags:             tags,
	}
}
