package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goclaw/hmem/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const engineTracerName = "hmem.memory"

const (
	spanConsolidate = "memory.consolidate"
	spanSave        = "memory.save"
	spanLoad        = "memory.load"
	spanContext     = "memory.context"
)

// Persistence operations reported to MetricsRecorder.RecordPersistenceFailure.
const (
	opLoadEpisodic = "load_episodic"
	opLoadSemantic = "load_semantic"
	opSaveEpisodic = "save_episodic"
	opSaveSemantic = "save_semantic"
)

// Consolidation outcomes reported to MetricsRecorder.RecordConsolidation.
const (
	outcomeCompleted = "completed"
	outcomeCancelled = "cancelled"
)

func engineTracer() trace.Tracer {
	return otel.Tracer(engineTracerName)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l memLogger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPersister sets the snapshot store used by Load and Save.
func WithPersister(p Persister) Option {
	return func(e *Engine) { e.persister = p }
}

// WithVectorIndex enables the best-effort knowledge mirror.
func WithVectorIndex(v VectorIndex) Option {
	return func(e *Engine) { e.vector = v }
}

// WithMirrorConfig tunes the mirror dispatcher.
func WithMirrorConfig(cfg config.MirrorConfig) Option {
	return func(e *Engine) { e.mirrorCfg = cfg }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// tuning holds the settings Reconfigure may change at runtime.
type tuning struct {
	minEpisodes          int
	pruneMaxAgeHours     float64
	semanticContextLimit int
	episodicContextLimit int
	workingContextLimit  int
	contextMinImportance float64
}

// Engine owns the three memory tiers and everything that moves data between
// them. Each store serializes its own mutations; a consolidation pass never
// holds a store lock across the whole batch.
type Engine struct {
	cfg config.MemoryConfig
	now func() time.Time

	working  *WorkingMemory
	episodic *EpisodicStore
	semantic *SemanticStore
	text     *textIndex

	persister Persister
	vector    VectorIndex
	mirrorCfg config.MirrorConfig
	mirror    *mirrorDispatcher
	metrics   MetricsRecorder
	logger    memLogger

	tuneMu sync.RWMutex
	tune   tuning

	consolidateMu sync.Mutex

	lifeMu   sync.Mutex
	started  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// New creates an engine from cfg. A nil cfg uses the defaults.
func New(cfg *config.MemoryConfig, opts ...Option) *Engine {
	if cfg == nil {
		def := config.DefaultMemoryConfig()
		cfg = &def
	}
	e := &Engine{
		cfg:       *cfg,
		now:       defaultClock,
		mirrorCfg: config.DefaultConfig().Vector.Mirror,
		metrics:   nopMetrics{},
		logger:    nopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}

	k1, b := cfg.BM25.K1, cfg.BM25.B
	if k1 <= 0 {
		k1 = 1.5
	}
	if b < 0 || b > 1 {
		b = 0.75
	}

	e.working = NewWorkingMemory(cfg.WorkingCapacity, e.now)
	e.episodic = NewEpisodicStore(e.now)
	e.semantic = NewSemanticStore(e.now)
	e.text = newTextIndex(k1, b)
	e.tune = tuningFrom(cfg)
	if e.vector != nil {
		e.mirror = newMirrorDispatcher(e.vector, e.mirrorCfg, e.metrics, e.logger)
	}
	return e
}

func tuningFrom(cfg *config.MemoryConfig) tuning {
	t := tuning{
		minEpisodes:          cfg.MinEpisodes,
		pruneMaxAgeHours:     cfg.PruneMaxAgeHours,
		semanticContextLimit: cfg.SemanticContextLimit,
		episodicContextLimit: cfg.EpisodicContextLimit,
		workingContextLimit:  cfg.WorkingContextLimit,
		contextMinImportance: cfg.ContextMinImportance,
	}
	if t.minEpisodes <= 0 {
		t.minEpisodes = DefaultMinEpisodes
	}
	if t.pruneMaxAgeHours <= 0 {
		t.pruneMaxAgeHours = DefaultPruneMaxAgeHours
	}
	if t.semanticContextLimit <= 0 {
		t.semanticContextLimit = 5
	}
	if t.episodicContextLimit <= 0 {
		t.episodicContextLimit = 10
	}
	if t.workingContextLimit <= 0 {
		t.workingContextLimit = 10
	}
	return t
}

func (e *Engine) settings() tuning {
	e.tuneMu.RLock()
	defer e.tuneMu.RUnlock()
	return e.tune
}

// Reconfigure applies hot-reloadable settings. Non-positive limits keep the
// current setting.
func (e *Engine) Reconfigure(h config.HotReloadableConfig) {
	e.tuneMu.Lock()
	defer e.tuneMu.Unlock()

	if h.MinEpisodes > 0 {
		e.tune.minEpisodes = h.MinEpisodes
	}
	if h.PruneMaxAgeHours > 0 {
		e.tune.pruneMaxAgeHours = h.PruneMaxAgeHours
	}
	if h.SemanticContextLimit > 0 {
		e.tune.semanticContextLimit = h.SemanticContextLimit
	}
	if h.EpisodicContextLimit > 0 {
		e.tune.episodicContextLimit = h.EpisodicContextLimit
	}
	if h.WorkingContextLimit > 0 {
		e.tune.workingContextLimit = h.WorkingContextLimit
	}
	if h.ContextMinImportance >= 0 && h.ContextMinImportance <= 1 {
		e.tune.contextMinImportance = h.ContextMinImportance
	}
	e.logger.Info("memory engine reconfigured",
		"min_episodes", e.tune.minEpisodes,
		"prune_max_age_hours", e.tune.pruneMaxAgeHours,
	)
}

// Working memory

// AddToWorking stores content under key in working memory.
func (e *Engine) AddToWorking(key string, content any, importance float64) {
	e.working.Put(key, content, importance)
	e.recordSizes()
}

// GetFromWorking returns the content under key and counts the access.
func (e *Engine) GetFromWorking(key string) (any, bool) {
	return e.working.Get(key)
}

// WorkingContext returns the top maxItems working memory items.
func (e *Engine) WorkingContext(maxItems int) []WorkingMemoryItem {
	return e.working.Context(maxItems)
}

// ClearWorking empties working memory.
func (e *Engine) ClearWorking() {
	e.working.Clear()
	e.recordSizes()
}

// Episodic memory

// AddEpisode validates in and records it. Validation failures are the only
// errors.
func (e *Engine) AddEpisode(ctx context.Context, in EpisodeInput) (*Episode, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if _, err := CanonicalContent(in.Content); err != nil {
		return nil, &ValidationError{Field: "content", Reason: err.Error()}
	}
	ep := e.episodic.Add(in)
	e.logger.Debug("episode recorded",
		"episode_id", ep.ID,
		"category", ep.Category,
		"tags", len(ep.Tags),
	)
	e.recordSizes()
	return ep, nil
}

// GetEpisode returns a copy of the episode with id.
func (e *Engine) GetEpisode(id string) (*Episode, bool) {
	return e.episodic.Get(id)
}

// RecentEpisodes returns the newest episodes of category (all when nil)
// with importance >= minImportance.
func (e *Engine) RecentEpisodes(category *Category, limit int, minImportance float64) []*Episode {
	return e.episodic.Recent(category, limit, minImportance)
}

// PruneEpisodes removes forgotten episodes and returns how many were deleted.
// A non-positive maxAgeHours uses the configured age.
func (e *Engine) PruneEpisodes(maxAgeHours float64) int {
	if maxAgeHours <= 0 {
		maxAgeHours = e.settings().pruneMaxAgeHours
	}
	n := len(e.episodic.Prune(maxAgeHours))
	if n > 0 {
		e.logger.Info("episodes pruned", "count", n, "max_age_hours", maxAgeHours)
	}
	e.recordSizes()
	return n
}

// Semantic memory

// AddSemanticKnowledge validates in and creates a record, or reinforces the
// record already holding in.Concept. The result is mirrored asynchronously.
func (e *Engine) AddSemanticKnowledge(ctx context.Context, in KnowledgeInput) (*SemanticKnowledge, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	record, created := e.semantic.Create(in)
	e.indexText(record)
	e.enqueueMirror(record)
	e.logger.Debug("knowledge stored",
		"knowledge_id", record.ID,
		"concept", record.Concept,
		"created", created,
	)
	e.recordSizes()
	return record, nil
}

// GetSemanticKnowledge returns a copy of the record without side effects.
func (e *Engine) GetSemanticKnowledge(id string) (*SemanticKnowledge, bool) {
	return e.semantic.Peek(id)
}

// TouchSemanticKnowledge records an access to the record and returns it.
func (e *Engine) TouchSemanticKnowledge(id string) (*SemanticKnowledge, bool) {
	return e.semantic.Touch(id)
}

// SearchSemantic ranks records carrying any of tags.
func (e *Engine) SearchSemantic(tags []string, minConfidence float64, limit int) []*SemanticKnowledge {
	return e.semantic.Search(tags, minConfidence, limit)
}

// Consolidation

// Consolidate runs one consolidation pass, mirrors the promoted knowledge
// and saves both stores. Passes never overlap. A failed save is logged and
// reported through Persisted; only cancellation is returned as an error.
func (e *Engine) Consolidate(ctx context.Context, minEpisodes int) (*ConsolidationSummary, error) {
	e.consolidateMu.Lock()
	defer e.consolidateMu.Unlock()

	t := e.settings()
	if minEpisodes <= 0 {
		minEpisodes = t.minEpisodes
	}

	ctx, span := engineTracer().Start(ctx, spanConsolidate,
		trace.WithAttributes(attribute.Int("memory.min_episodes", minEpisodes)),
	)
	defer span.End()

	c := NewConsolidator(e.episodic, e.semantic, t.pruneMaxAgeHours, e.logger)
	summary, runErr := c.Run(ctx, minEpisodes)

	for _, id := range summary.KnowledgeIDs {
		if record, ok := e.semantic.Peek(id); ok {
			e.indexText(record)
			e.enqueueMirror(record)
		}
	}

	if runErr == nil && e.persister != nil {
		if err := e.Save(ctx); err != nil {
			e.logger.Warn("consolidation results not persisted", "error", err)
		} else {
			summary.Persisted = true
		}
	}

	outcome := outcomeCompleted
	if runErr != nil {
		outcome = outcomeCancelled
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	span.SetAttributes(
		attribute.Int("memory.reviewed", summary.Reviewed),
		attribute.Int("memory.created", summary.Created),
		attribute.Int("memory.reinforced", summary.Reinforced),
		attribute.Int("memory.pruned", summary.Pruned),
		attribute.Int("memory.skipped", summary.Skipped),
		attribute.Bool("memory.persisted", summary.Persisted),
	)
	e.metrics.RecordConsolidation(outcome, summary.Duration.Seconds(),
		summary.Created, summary.Reinforced, summary.Pruned, summary.Skipped)
	e.recordSizes()

	return summary, runErr
}

// Memory context

// ContextOptions selects the tiers included in a memory context.
type ContextOptions struct {
	IncludeWorking  bool
	IncludeEpisodic bool
	IncludeSemantic bool
}

// AllTiers includes every tier.
var AllTiers = ContextOptions{IncludeWorking: true, IncludeEpisodic: true, IncludeSemantic: true}

// ContextSnapshot is the composite read returned by MemoryContext.
type ContextSnapshot struct {
	Query    string               `json:"query"`
	Tags     []string             `json:"tags,omitempty"`
	Semantic []*SemanticKnowledge `json:"semantic,omitempty"`
	Working  []WorkingMemoryItem  `json:"working,omitempty"`
	Episodes []*Episode           `json:"episodes,omitempty"`

	// FreeText is set when the semantic results came from the free-text
	// fallback instead of tag matches.
	FreeText bool `json:"free_text,omitempty"`
}

// MemoryContext assembles knowledge relevant to query together with the top
// working memory items and recent important episodes. The query is
// tokenized into tag candidates; when no tag matches, a free-text search is
// tried. The read does not count as knowledge usage.
func (e *Engine) MemoryContext(ctx context.Context, query string, opts ContextOptions) *ContextSnapshot {
	ctx, span := engineTracer().Start(ctx, spanContext)
	defer span.End()

	t := e.settings()
	out := &ContextSnapshot{Query: query}

	if opts.IncludeSemantic {
		out.Tags = queryTags(query)
		if len(out.Tags) > 0 {
			out.Semantic = e.semantic.Search(out.Tags, 0, t.semanticContextLimit)
		}
		if len(out.Semantic) == 0 && strings.TrimSpace(query) != "" {
			out.Semantic = e.freeText(ctx, query, t.semanticContextLimit)
			out.FreeText = len(out.Semantic) > 0
		}
	}
	if opts.IncludeWorking {
		out.Working = e.working.Context(t.workingContextLimit)
	}
	if opts.IncludeEpisodic {
		out.Episodes = e.episodic.Recent(nil, t.episodicContextLimit, t.contextMinImportance)
	}

	span.SetAttributes(
		attribute.Int("memory.semantic", len(out.Semantic)),
		attribute.Bool("memory.free_text", out.FreeText),
	)
	return out
}

// freeText resolves query through the vector index when it can search, and
// through the local BM25 index otherwise.
func (e *Engine) freeText(ctx context.Context, query string, limit int) []*SemanticKnowledge {
	var ids []string
	if searcher, ok := e.vector.(TextSearcher); ok {
		found, err := searcher.Search(ctx, query, limit)
		if err != nil {
			e.logger.Warn("free-text search failed", "error", err)
		}
		ids = found
	}
	if len(ids) == 0 {
		ids = e.text.search(query, limit)
	}

	out := make([]*SemanticKnowledge, 0, len(ids))
	for _, id := range ids {
		if record, ok := e.semantic.Peek(id); ok {
			out = append(out, record)
		}
	}
	return out
}

// Stats

// Stats is a point-in-time summary of every tier.
type Stats struct {
	Working  WorkingStats  `json:"working"`
	Episodic EpisodicStats `json:"episodic"`
	Semantic SemanticStats `json:"semantic"`
	Mirror   *MirrorStats  `json:"mirror,omitempty"`
}

// WorkingStats summarizes working memory.
type WorkingStats struct {
	Size     int `json:"size"`
	Capacity int `json:"capacity"`
}

// Stats returns the current tier summaries.
func (e *Engine) Stats() Stats {
	s := Stats{
		Working:  WorkingStats{Size: e.working.Len(), Capacity: e.working.Capacity()},
		Episodic: e.episodic.Stats(),
		Semantic: e.semantic.Stats(),
	}
	if e.mirror != nil {
		ms := e.mirror.stats()
		s.Mirror = &ms
	}
	return s
}

func (e *Engine) recordSizes() {
	e.metrics.SetStoreSizes(e.working.Len(), e.episodic.Len(), e.semantic.Len())
}

// Persistence

// Load restores both stores from the persister. Records already in memory
// with the same id are replaced. A missing persister is a no-op.
func (e *Engine) Load(ctx context.Context) error {
	if e.persister == nil {
		return nil
	}
	ctx, span := engineTracer().Start(ctx, spanLoad)
	defer span.End()

	var errs []error
	episodes, err := e.persister.LoadEpisodic(ctx)
	if err != nil {
		e.metrics.RecordPersistenceFailure(opLoadEpisodic)
		errs = append(errs, fmt.Errorf("load episodic: %w", err))
	}
	for _, ep := range episodes {
		e.episodic.Put(ep)
	}

	knowledge, err := e.persister.LoadSemantic(ctx)
	if err != nil {
		e.metrics.RecordPersistenceFailure(opLoadSemantic)
		errs = append(errs, fmt.Errorf("load semantic: %w", err))
	}
	for _, k := range knowledge {
		e.semantic.Put(k)
	}
	e.text.reset()
	for _, k := range e.semantic.Snapshot() {
		e.indexText(k)
	}

	e.recordSizes()
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(
		attribute.Int("memory.episodes", len(episodes)),
		attribute.Int("memory.knowledge", len(knowledge)),
	)
	e.logger.Info("memory loaded", "episodes", len(episodes), "knowledge", len(knowledge))
	return nil
}

// Save writes full snapshots of both stores. Both writes are attempted even
// when the first fails. A missing persister is a no-op.
func (e *Engine) Save(ctx context.Context) error {
	if e.persister == nil {
		return nil
	}
	ctx, span := engineTracer().Start(ctx, spanSave)
	defer span.End()

	episodes := e.episodic.Snapshot()
	knowledge := e.semantic.Snapshot()

	var errs []error
	if err := e.persister.SaveEpisodic(ctx, episodes); err != nil {
		e.metrics.RecordPersistenceFailure(opSaveEpisodic)
		errs = append(errs, fmt.Errorf("save episodic: %w", err))
	}
	if err := e.persister.SaveSemantic(ctx, knowledge); err != nil {
		e.metrics.RecordPersistenceFailure(opSaveSemantic)
		errs = append(errs, fmt.Errorf("save semantic: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("memory save failed", "error", err)
		return err
	}
	span.SetAttributes(
		attribute.Int("memory.episodes", len(episodes)),
		attribute.Int("memory.knowledge", len(knowledge)),
	)
	e.logger.Debug("memory saved", "episodes", len(episodes), "knowledge", len(knowledge))
	return nil
}

// Lifecycle

// Start launches the mirror worker and, when an interval is configured, the
// periodic consolidation loop.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	if e.started {
		return ErrAlreadyStarted
	}

	e.logger.Info("starting memory engine",
		"working_capacity", e.working.Capacity(),
		"consolidation_interval", e.cfg.ConsolidationInterval,
		"mirror", e.mirror != nil,
	)

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.loopDone = make(chan struct{})
	if e.mirror != nil {
		// the mirror outlives ctx so Stop can drain it
		e.mirror.start(context.WithoutCancel(ctx))
	}
	if e.cfg.ConsolidationInterval > 0 {
		go e.consolidationLoop(loopCtx, e.cfg.ConsolidationInterval, e.loopDone)
	} else {
		close(e.loopDone)
	}

	e.started = true
	return nil
}

func (e *Engine) consolidationLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := e.Consolidate(ctx, 0); err != nil {
				e.logger.Warn("scheduled consolidation interrupted", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the background loops, drains the mirror queue and, when
// configured, saves both stores. Stopping an engine that was never started
// only performs the save.
func (e *Engine) Stop(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	var errs []error
	if e.started {
		e.logger.Info("stopping memory engine")
		e.cancel()
		<-e.loopDone
		if e.mirror != nil {
			if err := e.mirror.close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("drain mirror: %w", err))
			}
		}
		e.started = false
	}

	if e.cfg.SaveOnStop {
		if err := e.Save(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) indexText(k *SemanticKnowledge) {
	e.text.index(k.ID, k.Concept+" "+k.Description+" "+strings.Join(k.Tags, " "))
}

func (e *Engine) enqueueMirror(k *SemanticKnowledge) {
	if e.mirror != nil {
		e.mirror.enqueue(k)
	}
}
