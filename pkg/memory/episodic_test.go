package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpisodicStore_AddNormalizes(t *testing.T) {
	clock := newFakeClock()
	s := NewEpisodicStore(clock.Now)

	ep := s.Add(EpisodeInput{
		Category:         CategoryLearning,
		Description:      "read the docs",
		EmotionalValence: 4,
		Importance:       -2,
		Tags:             []string{" Go ", "go", "", "Docs"},
	})

	assert.NotEmpty(t, ep.ID)
	assert.Equal(t, testEpoch, ep.Timestamp)
	assert.Equal(t, 1.0, ep.EmotionalValence)
	assert.Equal(t, 0.0, ep.Importance)
	assert.Equal(t, []string{"docs", "go"}, ep.Tags)
	assert.Equal(t, 0, ep.ConsolidationCount)
}

func TestEpisodicStore_GetReturnsCopy(t *testing.T) {
	s := NewEpisodicStore(nil)
	s.Add(EpisodeInput{ID: "e1", Category: CategoryReflection, Content: map[string]any{"k": "v"}, Tags: []string{"x"}})

	got, ok := s.Get("e1")
	require.True(t, ok)
	got.Tags[0] = "mutated"
	got.Content["k"] = "mutated"

	again, _ := s.Get("e1")
	assert.Equal(t, "x", again.Tags[0])
	assert.Equal(t, "v", again.Content["k"])

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestEpisodicStore_AddOverwritesSameID(t *testing.T) {
	s := NewEpisodicStore(nil)
	s.Add(EpisodeInput{ID: "e1", Category: CategoryLearning})
	s.Add(EpisodeInput{ID: "e1", Category: CategoryInteraction})

	assert.Equal(t, 1, s.Len())
	stats := s.Stats()
	assert.Equal(t, 0, stats.ByCategory[CategoryLearning])
	assert.Equal(t, 1, stats.ByCategory[CategoryInteraction])
}

func TestEpisodicStore_Recent(t *testing.T) {
	clock := newFakeClock()
	s := NewEpisodicStore(clock.Now)

	s.Add(EpisodeInput{ID: "old", Category: CategoryLearning, Importance: 0.9})
	clock.Advance(time.Minute)
	s.Add(EpisodeInput{ID: "minor", Category: CategoryLearning, Importance: 0.1})
	clock.Advance(time.Minute)
	s.Add(EpisodeInput{ID: "new", Category: CategoryInteraction, Importance: 0.7})

	all := s.Recent(nil, 0, 0)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"new", "minor", "old"}, []string{all[0].ID, all[1].ID, all[2].ID})

	important := s.Recent(nil, 10, 0.5)
	require.Len(t, important, 2)
	assert.Equal(t, "new", important[0].ID)

	learning := CategoryLearning
	got := s.Recent(&learning, 1, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "minor", got[0].ID)
}

func TestEpisodicStore_Prune(t *testing.T) {
	clock := newFakeClock()
	s := NewEpisodicStore(clock.Now)

	s.Put(&Episode{ID: "faded", Category: CategoryLearning, Timestamp: testEpoch.Add(-200 * time.Hour), Importance: 1})
	s.Put(&Episode{ID: "reviewed", Category: CategoryLearning, Timestamp: testEpoch.Add(-200 * time.Hour), Importance: 1, ConsolidationCount: 1})
	s.Put(&Episode{ID: "recent", Category: CategoryLearning, Timestamp: testEpoch.Add(-time.Hour), Importance: 0.01})

	pruned := s.Prune(DefaultPruneMaxAgeHours)
	assert.Equal(t, []string{"faded"}, pruned)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 2, s.Stats().ByCategory[CategoryLearning])

	assert.Empty(t, s.Prune(0))
}

func TestEpisodicStore_SelectForConsolidation(t *testing.T) {
	clock := newFakeClock()
	s := NewEpisodicStore(clock.Now)

	s.Add(eligibleEpisode("e1", CategoryToolExecution, true, "git"))
	s.Add(EpisodeInput{ID: "plain", Category: CategoryToolExecution})
	clock.Advance(2 * time.Hour)

	selected := s.SelectForConsolidation()
	require.Len(t, selected, 1)
	assert.Equal(t, "e1", selected[0].ID)
	assert.Equal(t, 1, selected[0].ConsolidationCount)

	stored, _ := s.Get("e1")
	assert.Equal(t, 1, stored.ConsolidationCount)

	assert.Equal(t, 1, s.MarkConsolidated([]string{"e1", "missing"}))
	stored, _ = s.Get("e1")
	assert.Equal(t, 2, stored.ConsolidationCount)
}

func TestEpisodicStore_StatsAndSnapshot(t *testing.T) {
	clock := newFakeClock()
	s := NewEpisodicStore(clock.Now)

	assert.Equal(t, EpisodicStats{Total: 0, ByCategory: map[Category]int{}}, s.Stats())

	s.Add(EpisodeInput{ID: "b", Category: CategoryLearning})
	clock.Advance(2 * time.Hour)
	s.Add(EpisodeInput{ID: "a", Category: CategoryReflection})

	stats := s.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.InDelta(t, 1.0, stats.AvgAgeHours, 1e-9)

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "b", snap[0].ID)
	assert.Equal(t, "a", snap[1].ID)
}
