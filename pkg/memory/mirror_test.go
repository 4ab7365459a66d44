package memory

import (
	"context"
	"testing"
	"time"

	"github.com/goclaw/hmem/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMirrorConfig(queue int) config.MirrorConfig {
	return config.MirrorConfig{QueueSize: queue, Burst: 1, Timeout: time.Second}
}

func TestMirrorDispatcher_DeliversAndDrainsOnClose(t *testing.T) {
	index := newFakeVectorIndex()
	metrics := newFakeMetrics()
	d := newMirrorDispatcher(index, testMirrorConfig(8), metrics, nopLogger{})

	for _, id := range []string{"k1", "k2", "k3"} {
		require.True(t, d.enqueue(&SemanticKnowledge{ID: id, Concept: "C " + id, Tags: []string{"t"}}))
	}
	d.start(context.Background())
	require.NoError(t, d.close(context.Background()))

	calls := index.mirrored()
	require.Len(t, calls, 3)
	assert.Equal(t, "k1", calls[0].id)
	assert.Equal(t, "C k1", calls[0].concept)
	assert.Equal(t, []string{"t"}, calls[0].tags)

	stats := d.stats()
	assert.Equal(t, int64(3), stats.Delivered)
	assert.Equal(t, 0, stats.Queued)
	assert.Equal(t, 3, metrics.mirrorCount(MirrorOutcomeOK))
}

func TestMirrorDispatcher_DropsWhenFull(t *testing.T) {
	metrics := newFakeMetrics()
	d := newMirrorDispatcher(newFakeVectorIndex(), testMirrorConfig(1), metrics, nopLogger{})

	assert.True(t, d.enqueue(&SemanticKnowledge{ID: "k1"}))
	assert.False(t, d.enqueue(&SemanticKnowledge{ID: "k2"}))

	stats := d.stats()
	assert.Equal(t, 1, stats.Queued)
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, 1, metrics.mirrorCount(MirrorOutcomeDropped))
}

func TestMirrorDispatcher_CloseWithoutStartDiscards(t *testing.T) {
	index := newFakeVectorIndex()
	d := newMirrorDispatcher(index, testMirrorConfig(4), newFakeMetrics(), nopLogger{})
	d.enqueue(&SemanticKnowledge{ID: "k1"})
	d.enqueue(&SemanticKnowledge{ID: "k2"})

	require.NoError(t, d.close(context.Background()))
	assert.Empty(t, index.mirrored())
	assert.Equal(t, int64(2), d.stats().Dropped)

	// closed dispatchers reject work and never start
	assert.False(t, d.enqueue(&SemanticKnowledge{ID: "k3"}))
	d.start(context.Background())
	assert.False(t, d.started.Load())
}

func TestMirrorDispatcher_FailuresAreCounted(t *testing.T) {
	index := newFakeVectorIndex()
	index.fail = true
	metrics := newFakeMetrics()
	d := newMirrorDispatcher(index, testMirrorConfig(4), metrics, nopLogger{})

	d.start(context.Background())
	d.enqueue(&SemanticKnowledge{ID: "k1"})
	require.NoError(t, d.close(context.Background()))

	assert.Equal(t, int64(1), d.stats().Failed)
	assert.Equal(t, 1, metrics.mirrorCount(MirrorOutcomeError))
}

func TestMirrorDispatcher_CloseHonorsDeadline(t *testing.T) {
	index := newFakeVectorIndex()
	index.block = make(chan struct{})
	d := newMirrorDispatcher(index, config.MirrorConfig{QueueSize: 4, Burst: 1, Timeout: time.Minute}, newFakeMetrics(), nopLogger{})

	d.start(context.Background())
	d.enqueue(&SemanticKnowledge{ID: "k1"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := d.close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMirrorDispatcher_RateLimited(t *testing.T) {
	index := newFakeVectorIndex()
	cfg := config.MirrorConfig{QueueSize: 8, RatePerSec: 1000, Burst: 1, Timeout: time.Second}
	d := newMirrorDispatcher(index, cfg, newFakeMetrics(), nopLogger{})
	require.NotNil(t, d.limiter)

	d.start(context.Background())
	for _, id := range []string{"a", "b", "c"} {
		d.enqueue(&SemanticKnowledge{ID: id})
	}
	require.NoError(t, d.close(context.Background()))
	assert.Len(t, index.mirrored(), 3)
}
