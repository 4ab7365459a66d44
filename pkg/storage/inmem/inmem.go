// Package inmem provides an in-process Persister. Snapshots are kept
// serialized so loads behave like a durable backend.
package inmem

import (
	"context"
	"sort"
	"sync"

	"github.com/goclaw/hmem/pkg/memory"
	"github.com/goclaw/hmem/pkg/storage"
)

// Store keeps the latest snapshot of each tier.
type Store struct {
	mu        sync.RWMutex
	episodes  map[string][]byte
	knowledge map[string][]byte
}

// New creates an empty store.
func New() *Store {
	return &Store{
		episodes:  make(map[string][]byte),
		knowledge: make(map[string][]byte),
	}
}

// LoadEpisodic returns the saved episodes ordered by timestamp, then id.
func (s *Store) LoadEpisodic(ctx context.Context) ([]*memory.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*memory.Episode, 0, len(s.episodes))
	for id, data := range s.episodes {
		var ep memory.Episode
		if err := storage.Deserialize(id, data, &ep); err != nil {
			return nil, err
		}
		out = append(out, &ep)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SaveEpisodic replaces the episodic snapshot.
func (s *Store) SaveEpisodic(ctx context.Context, episodes []*memory.Episode) error {
	next := make(map[string][]byte, len(episodes))
	for _, ep := range episodes {
		data, err := storage.Serialize(ep.ID, ep)
		if err != nil {
			return err
		}
		next[ep.ID] = data
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.episodes = next
	return nil
}

// LoadSemantic returns the saved knowledge ordered by creation time, then id.
func (s *Store) LoadSemantic(ctx context.Context) ([]*memory.SemanticKnowledge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*memory.SemanticKnowledge, 0, len(s.knowledge))
	for id, data := range s.knowledge {
		var k memory.SemanticKnowledge
		if err := storage.Deserialize(id, data, &k); err != nil {
			return nil, err
		}
		out = append(out, &k)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SaveSemantic replaces the semantic snapshot.
func (s *Store) SaveSemantic(ctx context.Context, knowledge []*memory.SemanticKnowledge) error {
	next := make(map[string][]byte, len(knowledge))
	for _, k := range knowledge {
		data, err := storage.Serialize(k.ID, k)
		if err != nil {
			return err
		}
		next[k.ID] = data
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.knowledge = next
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
