package memory

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEpisodeInput(t *testing.T) {
	tests := []struct {
		name  string
		in    EpisodeInput
		field string
	}{
		{"valid", EpisodeInput{Category: CategoryLearning, Importance: 0.5, Tags: []string{"go"}}, ""},
		{"missing category", EpisodeInput{}, "category"},
		{"unknown category", EpisodeInput{Category: "dreaming"}, "category"},
		{"importance too high", EpisodeInput{Category: CategoryLearning, Importance: 1.5}, "importance"},
		{"valence too low", EpisodeInput{Category: CategoryLearning, EmotionalValence: -1.1}, "emotionalvalence"},
		{"blank tag", EpisodeInput{Category: CategoryLearning, Tags: []string{" "}}, "tags[0]"},
		{"control char tag", EpisodeInput{Category: CategoryLearning, Tags: []string{"ok", "a\nb"}}, "tags[1]"},
		{"long tag", EpisodeInput{Category: CategoryLearning, Tags: []string{strings.Repeat("x", maxTagLength+1)}}, "tags[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateInput(tt.in)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestValidateKnowledgeInput(t *testing.T) {
	assert.NoError(t, validateInput(KnowledgeInput{Concept: "Git Pattern", Confidence: 1}))

	err := validateInput(KnowledgeInput{Concept: "  "})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "concept", verr.Field)

	err = validateInput(KnowledgeInput{Concept: "C", Confidence: -0.1})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "confidence", verr.Field)

	err = validateInput(KnowledgeInput{Concept: "C", SourceEpisodes: []string{""}})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "sourceepisodes[0]", verr.Field)
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" Tool_Execution ")
	require.NoError(t, err)
	assert.Equal(t, CategoryToolExecution, c)

	_, err = ParseCategory("nope")
	assert.True(t, errors.Is(err, ErrValidation))
}
