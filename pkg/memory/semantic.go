package memory

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// reinforcementBonus is added on every reinforcement so that repetition
// alone raises confidence.
const reinforcementBonus = 0.05

// SemanticStats summarizes the semantic store.
type SemanticStats struct {
	Total         int     `json:"total"`
	AvgConfidence float64 `json:"avg_confidence"`
	TotalUsage    int     `json:"total_usage"`
}

// SemanticStore holds knowledge records indexed by concept and by tag.
// Records are reinforced in place, never duplicated per concept.
type SemanticStore struct {
	mu        sync.RWMutex
	records   map[string]*SemanticKnowledge
	byConcept map[string]string
	byTag     map[string]map[string]struct{}
	now       func() time.Time
}

// NewSemanticStore creates an empty store.
func NewSemanticStore(now func() time.Time) *SemanticStore {
	if now == nil {
		now = defaultClock
	}
	return &SemanticStore{
		records:   make(map[string]*SemanticKnowledge),
		byConcept: make(map[string]string),
		byTag:     make(map[string]map[string]struct{}),
		now:       now,
	}
}

// FindByConcept returns the id of the record holding concept.
func (s *SemanticStore) FindByConcept(concept string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byConcept[concept]
	return id, ok
}

// Create inserts a new record. When the concept already exists the call
// reinforces that record instead and reports created=false.
func (s *SemanticStore) Create(in KnowledgeInput) (record *SemanticKnowledge, created bool) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byConcept[in.Concept]; ok {
		return s.reinforceLocked(s.records[id], in.Description, in.Confidence, in.SourceEpisodes, now).Clone(), false
	}

	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}
	k := &SemanticKnowledge{
		ID:             id,
		Concept:        in.Concept,
		Description:    in.Description,
		Confidence:     clamp(in.Confidence, 0, 1),
		SourceEpisodes: mergeIDs(nil, in.SourceEpisodes),
		CreatedAt:      now,
		LastReinforced: now,
		Tags:           normalizeTags(in.Tags),
	}
	s.putLocked(k)
	return k.Clone(), true
}

// Reinforce merges new evidence into the record with the given id:
// confidence becomes min(1, (old+confidence)/2 + 0.05) and never drops,
// description is replaced, sources are merged without duplicates.
func (s *SemanticStore) Reinforce(id, description string, confidence float64, sources []string) (*SemanticKnowledge, bool) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return s.reinforceLocked(k, description, confidence, sources, now).Clone(), true
}

func (s *SemanticStore) reinforceLocked(k *SemanticKnowledge, description string, confidence float64, sources []string, now time.Time) *SemanticKnowledge {
	k.Confidence = reinforcedConfidence(k.Confidence, confidence)
	k.Description = description
	k.SourceEpisodes = mergeIDs(k.SourceEpisodes, sources)
	k.LastReinforced = now
	k.UsageCount++
	return k
}

func reinforcedConfidence(old, incoming float64) float64 {
	next := math.Min(1.0, (old+clamp(incoming, 0, 1))/2+reinforcementBonus)
	if next < old {
		return old
	}
	return next
}

// Put stores a complete record as-is, e.g. when restoring a snapshot. A
// record whose concept is held by a different id replaces it.
func (s *SemanticStore) Put(k *SemanticKnowledge) {
	if k == nil || k.ID == "" {
		return
	}
	clone := k.Clone()
	clone.Tags = normalizeTags(clone.Tags)

	s.mu.Lock()
	defer s.mu.Unlock()
	if other, ok := s.byConcept[clone.Concept]; ok && other != clone.ID {
		s.removeLocked(other)
	}
	s.putLocked(clone)
}

func (s *SemanticStore) putLocked(k *SemanticKnowledge) {
	if old, ok := s.records[k.ID]; ok {
		s.removeLocked(old.ID)
	}
	s.records[k.ID] = k
	s.byConcept[k.Concept] = k.ID
	for _, tag := range k.Tags {
		ids, ok := s.byTag[tag]
		if !ok {
			ids = make(map[string]struct{})
			s.byTag[tag] = ids
		}
		ids[k.ID] = struct{}{}
	}
}

func (s *SemanticStore) removeLocked(id string) {
	k, ok := s.records[id]
	if !ok {
		return
	}
	for _, tag := range k.Tags {
		if ids, ok := s.byTag[tag]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(s.byTag, tag)
			}
		}
	}
	if s.byConcept[k.Concept] == id {
		delete(s.byConcept, k.Concept)
	}
	delete(s.records, id)
}

// Peek returns a copy of the record without side effects.
func (s *SemanticStore) Peek(id string) (*SemanticKnowledge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return k.Clone(), true
}

// Touch records an access: usage count is incremented and last_reinforced
// refreshed. It returns the updated record.
func (s *SemanticStore) Touch(id string) (*SemanticKnowledge, bool) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.records[id]
	if !ok {
		return nil, false
	}
	k.UsageCount++
	k.LastReinforced = now
	return k.Clone(), true
}

// Search returns records carrying any of tags (every record when tags is
// empty) with confidence >= minConfidence, ranked by
// confidence * ln(1 + usage_count). limit <= 0 means no limit.
func (s *SemanticStore) Search(tags []string, minConfidence float64, limit int) []*SemanticKnowledge {
	tags = normalizeTags(tags)

	s.mu.RLock()
	var out []*SemanticKnowledge
	if len(tags) == 0 {
		for _, k := range s.records {
			if k.Confidence >= minConfidence {
				out = append(out, k.Clone())
			}
		}
	} else {
		seen := make(map[string]struct{})
		for _, tag := range tags {
			for id := range s.byTag[tag] {
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}
				if k := s.records[id]; k.Confidence >= minConfidence {
					out = append(out, k.Clone())
				}
			}
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		si, sj := searchScore(out[i]), searchScore(out[j])
		if si != sj {
			return si > sj
		}
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func searchScore(k *SemanticKnowledge) float64 {
	return k.Confidence * math.Log1p(float64(k.UsageCount))
}

// Snapshot returns copies of all records ordered by creation time, then id.
func (s *SemanticStore) Snapshot() []*SemanticKnowledge {
	s.mu.RLock()
	out := make([]*SemanticKnowledge, 0, len(s.records))
	for _, k := range s.records {
		out = append(out, k.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of records.
func (s *SemanticStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Stats returns totals, mean confidence and summed usage.
func (s *SemanticStore) Stats() SemanticStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := SemanticStats{Total: len(s.records)}
	if len(s.records) == 0 {
		return stats
	}
	total := 0.0
	for _, k := range s.records {
		total += k.Confidence
		stats.TotalUsage += k.UsageCount
	}
	stats.AvgConfidence = total / float64(len(s.records))
	return stats
}
