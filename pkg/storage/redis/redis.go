// Package redis provides a Redis-backed Persister. Each tier is a hash
// keyed by record id. Saves write a scratch hash and rename it over the
// live one, so readers never observe a half-written snapshot.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/goclaw/hmem/config"
	"github.com/goclaw/hmem/pkg/memory"
	"github.com/goclaw/hmem/pkg/storage"
)

// DefaultKeyPrefix is used when no prefix is configured.
const DefaultKeyPrefix = "hmem"

// Store persists snapshots in Redis hashes.
type Store struct {
	client redis.Cmdable
	closer func() error
	prefix string
	saveMu sync.Mutex
}

// New wraps an existing client. Close leaves the client open.
func New(client redis.Cmdable, keyPrefix string) *Store {
	keyPrefix = strings.TrimSuffix(keyPrefix, ":")
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: keyPrefix}
}

// NewFromConfig dials Redis and verifies the connection.
func NewFromConfig(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, &storage.StorageUnavailableError{Cause: err}
	}
	s := New(client, cfg.KeyPrefix)
	s.closer = client.Close
	return s, nil
}

func (s *Store) episodesKey() string {
	return s.prefix + ":episodes"
}

func (s *Store) knowledgeKey() string {
	return s.prefix + ":knowledge"
}

// LoadEpisodic returns the saved episodes ordered by timestamp, then id.
func (s *Store) LoadEpisodic(ctx context.Context) ([]*memory.Episode, error) {
	key := s.episodesKey()
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]*memory.Episode, 0, len(fields))
	for id, data := range fields {
		var ep memory.Episode
		if err := storage.Deserialize(key+"/"+id, []byte(data), &ep); err != nil {
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

// LoadSemantic returns the saved knowledge ordered by creation time, then id.
func (s *Store) LoadSemantic(ctx context.Context) ([]*memory.SemanticKnowledge, error) {
	key := s.knowledgeKey()
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]*memory.SemanticKnowledge, 0, len(fields))
	for id, data := range fields {
		var k memory.SemanticKnowledge
		if err := storage.Deserialize(key+"/"+id, []byte(data), &k); err != nil {
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

// SaveEpisodic replaces the episodic snapshot.
func (s *Store) SaveEpisodic(ctx context.Context, episodes []*memory.Episode) error {
	values := make([]interface{}, 0, 2*len(episodes))
	for _, ep := range episodes {
		data, err := storage.Serialize(ep.ID, ep)
		if err != nil {
			return err
		}
		values = append(values, ep.ID, string(data))
	}
	return s.replace(ctx, s.episodesKey(), values)
}

// SaveSemantic replaces the semantic snapshot.
func (s *Store) SaveSemantic(ctx context.Context, knowledge []*memory.SemanticKnowledge) error {
	values := make([]interface{}, 0, 2*len(knowledge))
	for _, k := range knowledge {
		data, err := storage.Serialize(k.ID, k)
		if err != nil {
			return err
		}
		values = append(values, k.ID, string(data))
	}
	return s.replace(ctx, s.knowledgeKey(), values)
}

func (s *Store) replace(ctx context.Context, key string, values []interface{}) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if len(values) == 0 {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return unavailable(err)
		}
		return nil
	}

	tmp := fmt.Sprintf("%s:tmp:%s", key, uuid.NewString())
	if err := s.client.HSet(ctx, tmp, values...).Err(); err != nil {
		_ = s.client.Del(context.WithoutCancel(ctx), tmp).Err()
		return unavailable(err)
	}
	if err := s.client.Rename(ctx, tmp, key).Err(); err != nil {
		_ = s.client.Del(context.WithoutCancel(ctx), tmp).Err()
		return unavailable(err)
	}
	return nil
}

// Close closes the client when this store dialed it.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &storage.StorageUnavailableError{Cause: err}
}
