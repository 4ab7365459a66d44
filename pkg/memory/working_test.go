package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkingMemory_EvictsOldestInsertion(t *testing.T) {
	w := NewWorkingMemory(3, newFakeClock().Now)

	w.Put("a", 1, 0.5)
	w.Put("b", 2, 0.5)
	w.Put("c", 3, 0.5)
	// rewriting a does not refresh its position
	w.Put("a", 10, 0.9)
	w.Put("d", 4, 0.5)

	_, ok := w.Get("a")
	assert.False(t, ok, "a was inserted first and must be evicted")
	for _, key := range []string{"b", "c", "d"} {
		_, ok := w.Get(key)
		assert.True(t, ok, key)
	}
	assert.Equal(t, 3, w.Len())
}

func TestWorkingMemory_UpdateKeepsHigherImportance(t *testing.T) {
	w := NewWorkingMemory(10, nil)

	w.Put("k", "first", 0.8)
	w.Put("k", "second", 0.3)

	items := w.Context(10)
	require.Len(t, items, 1)
	assert.Equal(t, "second", items[0].Content)
	assert.Equal(t, 0.8, items[0].Importance)
	assert.Equal(t, 1, items[0].AccessCount)
}

func TestWorkingMemory_GetCountsAccess(t *testing.T) {
	w := NewWorkingMemory(10, nil)
	w.Put("k", "v", 0.5)

	v, ok := w.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
	w.Get("k")

	items := w.Context(1)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].AccessCount)

	_, ok = w.Get("missing")
	assert.False(t, ok)
}

func TestWorkingMemory_ContextRanking(t *testing.T) {
	w := NewWorkingMemory(10, nil)
	w.Put("low", nil, 0.2)
	w.Put("high", nil, 0.9)
	w.Put("revisited", nil, 1.0)
	for i := 0; i < 4; i++ {
		w.Get("revisited") // 1.0 / 4 = 0.25
	}

	items := w.Context(10)
	require.Len(t, items, 3)
	assert.Equal(t, "high", items[0].Key)
	assert.Equal(t, "revisited", items[1].Key)
	assert.Equal(t, "low", items[2].Key)

	assert.Len(t, w.Context(2), 2)
	assert.Empty(t, w.Context(0))
}

func TestWorkingMemory_ClampsImportance(t *testing.T) {
	w := NewWorkingMemory(10, nil)
	w.Put("over", nil, 3)
	w.Put("under", nil, -1)

	byKey := map[string]float64{}
	for _, item := range w.Context(10) {
		byKey[item.Key] = item.Importance
	}
	assert.Equal(t, 1.0, byKey["over"])
	assert.Equal(t, 0.0, byKey["under"])
}

func TestWorkingMemory_Clear(t *testing.T) {
	w := NewWorkingMemory(2, nil)
	w.Put("a", 1, 0.5)
	w.Put("b", 2, 0.5)
	w.Clear()

	assert.Equal(t, 0, w.Len())
	assert.Empty(t, w.Context(10))

	w.Put("c", 3, 0.5)
	w.Put("d", 4, 0.5)
	w.Put("e", 5, 0.5)
	assert.Equal(t, 2, w.Len())
}

func TestWorkingMemory_DefaultCapacity(t *testing.T) {
	w := NewWorkingMemory(0, nil)
	assert.Equal(t, DefaultWorkingCapacity, w.Capacity())
}

func TestWorkingMemory_ConcurrentPuts(t *testing.T) {
	w := NewWorkingMemory(50, nil)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				w.Put(fmt.Sprintf("%d-%d", g, i), i, 0.5)
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 50, w.Len())
}
