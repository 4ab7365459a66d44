package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalContent_Numbers(t *testing.T) {
	got, err := CanonicalContent(map[string]any{
		"int":     7,
		"int32":   int32(-3),
		"big":     int64(9007199254740993),
		"huge":    uint64(18446744073709551615),
		"float":   2.5,
		"whole":   float64(4),
		"nested":  map[string]any{"n": 1},
		"list":    []int{1, 2},
		"text":    "ok",
		"flag":    true,
		"missing": nil,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(7), got["int"])
	assert.Equal(t, int64(-3), got["int32"])
	assert.Equal(t, int64(9007199254740993), got["big"])
	assert.Equal(t, uint64(18446744073709551615), got["huge"])
	assert.Equal(t, 2.5, got["float"])
	assert.Equal(t, int64(4), got["whole"])
	assert.Equal(t, map[string]any{"n": int64(1)}, got["nested"])
	assert.Equal(t, []any{int64(1), int64(2)}, got["list"])
	assert.Equal(t, "ok", got["text"])
	assert.Equal(t, true, got["flag"])
	assert.Nil(t, got["missing"])
}

func TestCanonicalContent_EmptyAndInvalid(t *testing.T) {
	got, err := CanonicalContent(map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = CanonicalContent(map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestEpisode_JSONKeepsContentExact(t *testing.T) {
	ep := &Episode{
		ID:       "e1",
		Category: CategoryToolExecution,
		Content:  map[string]any{"exit_code": int64(0), "bytes": int64(9007199254740993)},
		Tags:     []string{"io"},
	}
	data, err := json.Marshal(ep)
	require.NoError(t, err)

	var decoded Episode
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ep.Content, decoded.Content)
	assert.Equal(t, "e1", decoded.ID)
	assert.Equal(t, CategoryToolExecution, decoded.Category)
	assert.Equal(t, []string{"io"}, decoded.Tags)

	var bare Episode
	require.NoError(t, json.Unmarshal([]byte(`{"id":"e2","category":"learning"}`), &bare))
	assert.Nil(t, bare.Content)
}

func TestEpisodicStore_StoresCanonicalContent(t *testing.T) {
	s := NewEpisodicStore(nil)
	ep := s.Add(EpisodeInput{
		ID:       "e1",
		Category: CategoryToolExecution,
		Content:  map[string]any{"exit_code": 0, "bytes": int64(9007199254740993)},
	})
	assert.Equal(t, int64(0), ep.Content["exit_code"])

	s.Put(&Episode{ID: "e2", Category: CategoryLearning, Content: map[string]any{"pages": 12}})
	got, ok := s.Get("e2")
	require.True(t, ok)
	assert.Equal(t, int64(12), got.Content["pages"])
}

func TestEngine_AddEpisodeRejectsUnencodableContent(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.AddEpisode(context.Background(), EpisodeInput{
		Category: CategoryToolExecution,
		Content:  map[string]any{"callback": func() {}},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "content", verr.Field)
	assert.Equal(t, 0, e.Stats().Episodic.Total)
}
