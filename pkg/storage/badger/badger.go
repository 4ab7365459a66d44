// Package badger provides a Badger-backed Persister.
package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/goclaw/hmem/pkg/memory"
	"github.com/goclaw/hmem/pkg/storage"
)

const (
	episodePrefix   = "episode:"
	knowledgePrefix = "knowledge:"
)

// Config holds configuration for BadgerStorage.
type Config struct {
	Path              string
	SyncWrites        bool
	ValueLogFileSize  int64
	NumVersionsToKeep int
	InMemory          bool
}

// BadgerStorage persists each record under its own key. A save replaces
// every key of the tier in one transaction.
type BadgerStorage struct {
	db     *badger.DB
	owned  bool
	saveMu sync.Mutex
}

// NewBadgerStorage opens a Badger database.
func NewBadgerStorage(config *Config) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = config.SyncWrites
	if config.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = config.ValueLogFileSize
	}
	if config.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = config.NumVersionsToKeep
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &storage.StorageUnavailableError{Cause: err}
	}
	return &BadgerStorage{db: db, owned: true}, nil
}

// NewFromDB wraps an open database. Close leaves it open.
func NewFromDB(db *badger.DB) *BadgerStorage {
	return &BadgerStorage{db: db}
}

func episodeKey(id string) []byte {
	return []byte(episodePrefix + id)
}

func knowledgeKey(id string) []byte {
	return []byte(knowledgePrefix + id)
}

// LoadEpisodic returns every stored episode ordered by timestamp, then id.
func (b *BadgerStorage) LoadEpisodic(ctx context.Context) ([]*memory.Episode, error) {
	var out []*memory.Episode
	err := b.scan(ctx, episodePrefix, func(key string, val []byte) error {
		var ep memory.Episode
		if err := storage.Deserialize(key, val, &ep); err != nil {
			return err
		}
		out = append(out, &ep)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// LoadSemantic returns every stored record ordered by creation time, then id.
func (b *BadgerStorage) LoadSemantic(ctx context.Context) ([]*memory.SemanticKnowledge, error) {
	var out []*memory.SemanticKnowledge
	err := b.scan(ctx, knowledgePrefix, func(key string, val []byte) error {
		var k memory.SemanticKnowledge
		if err := storage.Deserialize(key, val, &k); err != nil {
			return err
		}
		out = append(out, &k)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (b *BadgerStorage) scan(ctx context.Context, prefix string, fn func(key string, val []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(item.Key())
			if err := item.Value(func(val []byte) error {
				return fn(key, val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveEpisodic replaces every stored episode.
func (b *BadgerStorage) SaveEpisodic(ctx context.Context, episodes []*memory.Episode) error {
	entries := make(map[string][]byte, len(episodes))
	for _, ep := range episodes {
		key := string(episodeKey(ep.ID))
		data, err := storage.Serialize(key, ep)
		if err != nil {
			return err
		}
		entries[key] = data
	}
	return b.replace(ctx, episodePrefix, entries)
}

// SaveSemantic replaces every stored knowledge record.
func (b *BadgerStorage) SaveSemantic(ctx context.Context, knowledge []*memory.SemanticKnowledge) error {
	entries := make(map[string][]byte, len(knowledge))
	for _, k := range knowledge {
		key := string(knowledgeKey(k.ID))
		data, err := storage.Serialize(key, k)
		if err != nil {
			return err
		}
		entries[key] = data
	}
	return b.replace(ctx, knowledgePrefix, entries)
}

// replace swaps the keys under prefix for entries. Snapshots too large for
// one transaction fall back to a prefix drop followed by a batch write.
func (b *BadgerStorage) replace(ctx context.Context, prefix string, entries map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.saveMu.Lock()
	defer b.saveMu.Unlock()

	err := b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false

		var stale [][]byte
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if _, keep := entries[string(key)]; !keep {
				stale = append(stale, key)
			}
		}
		it.Close()

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for key, val := range entries {
			if err := txn.Set([]byte(key), val); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrTxnTooBig) {
		return b.replaceInBatches(prefix, entries)
	}
	if err != nil {
		return fmt.Errorf("badger: save %s: %w", prefix, err)
	}
	return nil
}

func (b *BadgerStorage) replaceInBatches(prefix string, entries map[string][]byte) error {
	if err := b.db.DropPrefix([]byte(prefix)); err != nil {
		return fmt.Errorf("badger: drop %s: %w", prefix, err)
	}
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for key, val := range entries {
		if err := wb.Set([]byte(key), val); err != nil {
			return fmt.Errorf("badger: batch %s: %w", prefix, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("badger: flush %s: %w", prefix, err)
	}
	return nil
}

// Close closes the database when this storage opened it.
func (b *BadgerStorage) Close() error {
	if !b.owned {
		return nil
	}
	return b.db.Close()
}
