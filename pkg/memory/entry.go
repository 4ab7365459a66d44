package memory

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Category classifies an episode. The set is closed.
type Category string

const (
	CategoryToolExecution  Category = "tool_execution"
	CategoryCodeGeneration Category = "code_generation"
	CategoryLearning       Category = "learning"
	CategoryReflection     Category = "reflection"
	CategoryWebDiscovery   Category = "web_discovery"
	CategoryProblemSolving Category = "problem_solving"
	CategoryInteraction    Category = "interaction"
)

// Categories lists every valid category in processing order.
var Categories = []Category{
	CategoryToolExecution,
	CategoryCodeGeneration,
	CategoryLearning,
	CategoryReflection,
	CategoryWebDiscovery,
	CategoryProblemSolving,
	CategoryInteraction,
}

// Valid reports whether c is one of the enumerated categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory converts s to a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", s)}
	}
	return c, nil
}

// WorkingMemoryItem is a single entry in working memory.
type WorkingMemoryItem struct {
	Key         string    `json:"key"`
	Content     any       `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	AccessCount int       `json:"access_count"`
	Importance  float64   `json:"importance"`
}

// Episode is a single timestamped experience.
type Episode struct {
	// ID is the unique identifier of the episode.
	ID string `json:"id"`

	Category    Category       `json:"category"`
	Description string         `json:"description"`
	Content     map[string]any `json:"content,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Success     bool           `json:"success"`

	// EmotionalValence ranges from -1 (negative) to 1 (positive).
	EmotionalValence float64 `json:"emotional_valence"`

	// Importance ranges from 0 to 1 and scales the decay factor.
	Importance float64 `json:"importance"`

	// ConsolidationCount is the number of consolidation passes that
	// reviewed this episode. Reviewed episodes are never pruned.
	ConsolidationCount int `json:"consolidation_count"`

	// Tags is a sorted, deduplicated set of lowercase tags.
	Tags []string `json:"tags,omitempty"`
}

// EpisodeInput carries the caller-supplied fields of a new episode.
type EpisodeInput struct {
	ID               string         `validate:"max=128"`
	Category         Category       `validate:"required,category"`
	Description      string         `validate:"max=8192"`
	Content          map[string]any `validate:"-"`
	Success          bool
	EmotionalValence float64  `validate:"gte=-1,lte=1"`
	Importance       float64  `validate:"gte=0,lte=1"`
	Tags             []string `validate:"max=64,dive,tag"`
}

// SemanticKnowledge is a consolidated insight. At most one record exists per
// distinct Concept.
type SemanticKnowledge struct {
	ID             string    `json:"id"`
	Concept        string    `json:"concept"`
	Description    string    `json:"description"`
	Confidence     float64   `json:"confidence"`
	SourceEpisodes []string  `json:"source_episodes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastReinforced time.Time `json:"last_reinforced"`
	UsageCount     int       `json:"usage_count"`
	Tags           []string  `json:"tags,omitempty"`
}

// KnowledgeInput carries the caller-supplied fields of new knowledge.
type KnowledgeInput struct {
	ID             string   `validate:"max=128"`
	Concept        string   `validate:"concept"`
	Description    string   `validate:"max=8192"`
	Confidence     float64  `validate:"gte=0,lte=1"`
	SourceEpisodes []string `validate:"dive,required"`
	Tags           []string `validate:"max=64,dive,tag"`
}

// normalizeTags trims, lowercases, deduplicates and sorts tags.
// Blank tags are dropped.
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// mergeIDs appends the ids in add that are not already in base,
// preserving order.
func mergeIDs(base, add []string) []string {
	seen := make(map[string]struct{}, len(base)+len(add))
	out := make([]string, 0, len(base)+len(add))
	for _, id := range base {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range add {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
