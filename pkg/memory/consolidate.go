package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// DefaultMinEpisodes is the smallest category group a pass will mine.
	DefaultMinEpisodes = 3

	minTagGroupSize    = 2
	maxDescribedFields = 5

	successfulThreshold  = 0.7
	problematicThreshold = 0.3
	variableConfidence   = 0.5
)

// Sentiment labels derived from a tag group's success rate.
const (
	SentimentSuccessful  = "successful"
	SentimentProblematic = "problematic"
	SentimentVariable    = "variable"
)

// ConsolidationSummary reports the outcome of one consolidation pass.
type ConsolidationSummary struct {
	Reviewed     int           `json:"reviewed"`
	Consolidated int           `json:"consolidated"`
	Created      int           `json:"created"`
	Reinforced   int           `json:"reinforced"`
	Pruned       int           `json:"pruned"`
	Skipped      int           `json:"skipped"`
	Patterns     []string      `json:"patterns"`
	KnowledgeIDs []string      `json:"knowledge_ids,omitempty"`
	Duration     time.Duration `json:"duration"`
	Persisted    bool          `json:"persisted"`
}

// Consolidator promotes recurring episodic patterns into semantic knowledge.
type Consolidator struct {
	episodic    *EpisodicStore
	semantic    *SemanticStore
	pruneMaxAge float64
	title       cases.Caser
	logger      memLogger
}

// NewConsolidator creates a consolidator over the two stores. pruneMaxAge is
// the age in hours passed to the prune that closes every pass.
func NewConsolidator(episodic *EpisodicStore, semantic *SemanticStore, pruneMaxAge float64, logger memLogger) *Consolidator {
	if logger == nil {
		logger = nopLogger{}
	}
	if pruneMaxAge <= 0 {
		pruneMaxAge = DefaultPruneMaxAgeHours
	}
	return &Consolidator{
		episodic:    episodic,
		semantic:    semantic,
		pruneMaxAge: pruneMaxAge,
		title:       cases.Title(language.English),
		logger:      logger,
	}
}

// tagGroup is the set of candidate episodes of one category sharing a tag.
type tagGroup struct {
	category Category
	tag      string
	episodes []*Episode
}

// pattern is the knowledge derived from a tag group.
type pattern struct {
	concept     string
	description string
	confidence  float64
	sentiment   string
	sources     []string
	tags        []string
}

// Run executes one pass. Candidates are selected and their consolidation
// count incremented, grouped by category (groups smaller than minEpisodes are
// dropped) and then by tag, and each tag group is promoted into a new or
// reinforced knowledge record. Promoted episodes are counted a second time
// and the pass ends with a prune.
//
// A failing tag group is skipped without aborting the pass. When ctx is
// cancelled between groups, Run stops promoting, skips the prune and returns
// the partial summary with ctx.Err().
func (c *Consolidator) Run(ctx context.Context, minEpisodes int) (*ConsolidationSummary, error) {
	start := time.Now()
	if minEpisodes <= 0 {
		minEpisodes = DefaultMinEpisodes
	}

	candidates := c.episodic.SelectForConsolidation()
	summary := &ConsolidationSummary{
		Reviewed: len(candidates),
		Patterns: []string{},
	}

	var (
		touched     []string
		seenEpisode = make(map[string]struct{})
		seenRecord  = make(map[string]struct{})
		cancelErr   error
	)

	for _, group := range groupCandidates(candidates, minEpisodes) {
		if err := ctx.Err(); err != nil {
			cancelErr = err
			break
		}

		p, err := c.derivePattern(group)
		if err == nil {
			var record *SemanticKnowledge
			var created bool
			record, created, err = c.promote(p)
			if err == nil {
				if created {
					summary.Created++
				} else {
					summary.Reinforced++
				}
				summary.Patterns = append(summary.Patterns, p.concept)
				if _, ok := seenRecord[record.ID]; !ok {
					seenRecord[record.ID] = struct{}{}
					summary.KnowledgeIDs = append(summary.KnowledgeIDs, record.ID)
				}
				for _, id := range p.sources {
					if _, ok := seenEpisode[id]; !ok {
						seenEpisode[id] = struct{}{}
						touched = append(touched, id)
					}
				}
				continue
			}
		}

		summary.Skipped++
		c.logger.Warn("consolidation group skipped",
			"category", group.category,
			"tag", group.tag,
			"episodes", len(group.episodes),
			"error", err,
		)
	}

	summary.Consolidated = c.episodic.MarkConsolidated(touched)

	if cancelErr != nil {
		summary.Duration = time.Since(start)
		c.logger.Warn("consolidation cancelled",
			"created", summary.Created,
			"reinforced", summary.Reinforced,
			"error", cancelErr,
		)
		return summary, cancelErr
	}

	summary.Pruned = len(c.episodic.Prune(c.pruneMaxAge))
	summary.Duration = time.Since(start)

	c.logger.Info("consolidation finished",
		"reviewed", summary.Reviewed,
		"consolidated", summary.Consolidated,
		"created", summary.Created,
		"reinforced", summary.Reinforced,
		"pruned", summary.Pruned,
		"skipped", summary.Skipped,
		"duration", summary.Duration,
	)
	return summary, nil
}

// groupCandidates groups candidates by category (enum order) and then by tag
// (sorted). Category groups below minEpisodes and tag groups below two
// episodes are dropped.
func groupCandidates(candidates []*Episode, minEpisodes int) []tagGroup {
	byCategory := make(map[Category][]*Episode)
	for _, ep := range candidates {
		byCategory[ep.Category] = append(byCategory[ep.Category], ep)
	}

	var groups []tagGroup
	for _, category := range Categories {
		episodes := byCategory[category]
		if len(episodes) < minEpisodes {
			continue
		}

		byTag := make(map[string][]*Episode)
		for _, ep := range episodes {
			for _, tag := range ep.Tags {
				byTag[tag] = append(byTag[tag], ep)
			}
		}
		tags := make([]string, 0, len(byTag))
		for tag := range byTag {
			tags = append(tags, tag)
		}
		sort.Strings(tags)

		for _, tag := range tags {
			if len(byTag[tag]) < minTagGroupSize {
				continue
			}
			groups = append(groups, tagGroup{category: category, tag: tag, episodes: byTag[tag]})
		}
	}
	return groups
}

func (c *Consolidator) derivePattern(g tagGroup) (*pattern, error) {
	tag := strings.TrimSpace(g.tag)
	if tag == "" {
		return nil, fmt.Errorf("%w: blank tag in category %s", ErrInvalidConcept, g.category)
	}

	successes := 0
	sources := make([]string, 0, len(g.episodes))
	for _, ep := range g.episodes {
		if ep.Success {
			successes++
		}
		sources = append(sources, ep.ID)
	}
	rate := float64(successes) / float64(len(g.episodes))

	var sentiment string
	var confidence float64
	switch {
	case rate > successfulThreshold:
		sentiment, confidence = SentimentSuccessful, rate
	case rate < problematicThreshold:
		sentiment, confidence = SentimentProblematic, 1-rate
	default:
		sentiment, confidence = SentimentVariable, variableConfidence
	}

	concept := c.title.String(tag) + " Pattern"
	return &pattern{
		concept:     concept,
		description: describePattern(g, sentiment, rate),
		confidence:  confidence,
		sentiment:   sentiment,
		sources:     sources,
		tags:        []string{tag, string(g.category)},
	}, nil
}

func describePattern(g tagGroup, sentiment string, rate float64) string {
	fields := contentFields(g.episodes, maxDescribedFields)
	observed := "none recorded"
	if len(fields) > 0 {
		observed = strings.Join(fields, ", ")
	}
	return fmt.Sprintf(
		"%d %s episodes tagged %q show a %s pattern (success rate %.0f%%). Content fields: %s.",
		len(g.episodes), g.category, g.tag, sentiment, rate*100, observed,
	)
}

// contentFields returns up to limit distinct content keys in first-seen
// order; keys of a single episode are visited sorted.
func contentFields(episodes []*Episode, limit int) []string {
	seen := make(map[string]struct{})
	var fields []string
	for _, ep := range episodes {
		keys := make([]string, 0, len(ep.Content))
		for key := range ep.Content {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			fields = append(fields, key)
			if len(fields) == limit {
				return fields
			}
		}
	}
	return fields
}

// promote reinforces the record holding p.concept or creates a new one.
func (c *Consolidator) promote(p *pattern) (*SemanticKnowledge, bool, error) {
	if id, ok := c.semantic.FindByConcept(p.concept); ok {
		record, ok := c.semantic.Reinforce(id, p.description, p.confidence, p.sources)
		if ok {
			return record, false, nil
		}
		// removed concurrently; fall through to create
	}

	in := KnowledgeInput{
		Concept:        p.concept,
		Description:    p.description,
		Confidence:     p.confidence,
		SourceEpisodes: p.sources,
		Tags:           p.tags,
	}
	if err := validateInput(in); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) && verr.Field == "concept" {
			return nil, false, fmt.Errorf("%w: %s", ErrInvalidConcept, verr.Reason)
		}
		return nil, false, err
	}
	record, created := c.semantic.Create(in)
	return record, created, nil
}
