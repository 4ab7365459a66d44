package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EpisodicStats summarizes the episodic store.
type EpisodicStats struct {
	Total       int              `json:"total"`
	ByCategory  map[Category]int `json:"by_category"`
	AvgAgeHours float64          `json:"avg_age_hours"`
}

// EpisodicStore holds episodes indexed by id and by category. Readers always
// receive copies.
type EpisodicStore struct {
	mu         sync.RWMutex
	episodes   map[string]*Episode
	byCategory map[Category]map[string]struct{}
	now        func() time.Time
}

// NewEpisodicStore creates an empty store.
func NewEpisodicStore(now func() time.Time) *EpisodicStore {
	if now == nil {
		now = defaultClock
	}
	return &EpisodicStore{
		episodes:   make(map[string]*Episode),
		byCategory: make(map[Category]map[string]struct{}),
		now:        now,
	}
}

// Add records a new episode stamped with the current time. An existing
// episode with the same id is overwritten. An empty id is replaced with a
// random one. Content is kept in its canonical form.
func (s *EpisodicStore) Add(in EpisodeInput) *Episode {
	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}
	ep := &Episode{
		ID:               id,
		Category:         in.Category,
		Description:      in.Description,
		Content:          in.Content,
		Timestamp:        s.now(),
		Success:          in.Success,
		EmotionalValence: clamp(in.EmotionalValence, -1, 1),
		Importance:       clamp(in.Importance, 0, 1),
		Tags:             normalizeTags(in.Tags),
	}
	ep = ep.Clone()
	ep.Content = canonicalOrCopy(ep.Content)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(ep)
	return ep.Clone()
}

// Put stores a complete episode as-is, e.g. when restoring a snapshot.
func (s *EpisodicStore) Put(ep *Episode) {
	if ep == nil || ep.ID == "" {
		return
	}
	clone := ep.Clone()
	clone.Content = canonicalOrCopy(clone.Content)
	clone.Tags = normalizeTags(clone.Tags)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(clone)
}

// canonicalOrCopy keeps content that cannot be encoded unchanged; such
// episodes fail at save time instead.
func canonicalOrCopy(content map[string]any) map[string]any {
	canonical, err := CanonicalContent(content)
	if err != nil {
		return content
	}
	return canonical
}

func (s *EpisodicStore) putLocked(ep *Episode) {
	if old, ok := s.episodes[ep.ID]; ok && old.Category != ep.Category {
		s.unindexLocked(old)
	}
	s.episodes[ep.ID] = ep
	ids, ok := s.byCategory[ep.Category]
	if !ok {
		ids = make(map[string]struct{})
		s.byCategory[ep.Category] = ids
	}
	ids[ep.ID] = struct{}{}
}

func (s *EpisodicStore) unindexLocked(ep *Episode) {
	if ids, ok := s.byCategory[ep.Category]; ok {
		delete(ids, ep.ID)
		if len(ids) == 0 {
			delete(s.byCategory, ep.Category)
		}
	}
}

// Get returns a copy of the episode with the given id.
func (s *EpisodicStore) Get(id string) (*Episode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.episodes[id]
	if !ok {
		return nil, false
	}
	return ep.Clone(), true
}

// Recent returns episodes of the given category (all when nil) with
// importance >= minImportance, newest first. limit <= 0 means no limit.
func (s *EpisodicStore) Recent(category *Category, limit int, minImportance float64) []*Episode {
	s.mu.RLock()
	var out []*Episode
	if category != nil {
		for id := range s.byCategory[*category] {
			if ep := s.episodes[id]; ep.Importance >= minImportance {
				out = append(out, ep.Clone())
			}
		}
	} else {
		for _, ep := range s.episodes {
			if ep.Importance >= minImportance {
				out = append(out, ep.Clone())
			}
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Prune deletes episodes older than maxAgeHours whose decay factor fell
// below 0.1 and that no consolidation pass has reviewed. It returns the ids
// of deleted episodes.
func (s *EpisodicStore) Prune(maxAgeHours float64) []string {
	if maxAgeHours <= 0 {
		maxAgeHours = DefaultPruneMaxAgeHours
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned []string
	for id, ep := range s.episodes {
		if !prunable(ep, now, maxAgeHours) {
			continue
		}
		s.unindexLocked(ep)
		delete(s.episodes, id)
		pruned = append(pruned, id)
	}
	sort.Strings(pruned)
	return pruned
}

// SelectForConsolidation takes a point-in-time snapshot of the episodes
// eligible for consolidation, increments their consolidation count and
// returns copies reflecting the increment.
func (s *EpisodicStore) SelectForConsolidation() []*Episode {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var selected []*Episode
	for _, ep := range s.episodes {
		if !ShouldConsolidate(ep, now) {
			continue
		}
		ep.ConsolidationCount++
		selected = append(selected, ep.Clone())
	}
	sort.Slice(selected, func(i, j int) bool {
		if !selected[i].Timestamp.Equal(selected[j].Timestamp) {
			return selected[i].Timestamp.Before(selected[j].Timestamp)
		}
		return selected[i].ID < selected[j].ID
	})
	return selected
}

// MarkConsolidated increments the consolidation count of each listed
// episode still present and returns how many were updated.
func (s *EpisodicStore) MarkConsolidated(ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, id := range ids {
		if ep, ok := s.episodes[id]; ok {
			ep.ConsolidationCount++
			n++
		}
	}
	return n
}

// Snapshot returns copies of all episodes ordered by timestamp, then id.
func (s *EpisodicStore) Snapshot() []*Episode {
	s.mu.RLock()
	out := make([]*Episode, 0, len(s.episodes))
	for _, ep := range s.episodes {
		out = append(out, ep.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of stored episodes.
func (s *EpisodicStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.episodes)
}

// Stats returns totals, per-category counts and the mean age in hours.
func (s *EpisodicStore) Stats() EpisodicStats {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := EpisodicStats{
		Total:      len(s.episodes),
		ByCategory: make(map[Category]int, len(s.byCategory)),
	}
	for category, ids := range s.byCategory {
		stats.ByCategory[category] = len(ids)
	}
	if len(s.episodes) > 0 {
		total := 0.0
		for _, ep := range s.episodes {
			total += AgeHours(ep, now)
		}
		stats.AvgAgeHours = total / float64(len(s.episodes))
	}
	return stats
}
