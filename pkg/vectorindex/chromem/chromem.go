// Package chromem mirrors semantic knowledge into an embedded chromem-go
// collection.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"github.com/goclaw/hmem/pkg/vectorindex/embed"
)

// ErrEmptyText is returned when text has no indexable tokens.
var ErrEmptyText = errors.New("chromem: text has no indexable tokens")

// Store wraps one chromem-go collection holding one document per knowledge
// id.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   embed.Embedder
}

// Config holds store settings.
type Config struct {
	// Collection is the collection name.
	Collection string

	// Path persists the database on disk. Empty keeps it in memory.
	Path string

	// Compress gzips persisted documents.
	Compress bool
}

// New opens the database and gets or creates the collection.
func New(cfg Config, embedder embed.Embedder) (*Store, error) {
	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem db %s: %w", cfg.Path, err)
		}
	}

	name := cfg.Collection
	if name == "" {
		name = "hmem_knowledge"
	}
	col, err := db.GetOrCreateCollection(name, nil, chromem.EmbeddingFunc(embed.Func(embedder)))
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	return &Store{db: db, collection: col, embedder: embedder}, nil
}

// Mirror upserts the knowledge document.
func (s *Store) Mirror(ctx context.Context, id, concept, description string, tags []string) error {
	vec, err := s.embed(ctx, embed.Document(concept, description, tags))
	if err != nil {
		return fmt.Errorf("embed %s: %w", id, err)
	}
	doc := chromem.Document{
		ID:        id,
		Content:   description,
		Embedding: vec,
		Metadata: map[string]string{
			"concept": concept,
			"tags":    strings.Join(tags, ","),
		},
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document %s: %w", id, err)
	}
	return nil
}

// Search returns up to limit knowledge ids ranked by similarity to text.
func (s *Store) Search(ctx context.Context, text string, limit int) ([]string, error) {
	vec, err := s.embed(ctx, text)
	if errors.Is(err, ErrEmptyText) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// chromem rejects nResults above the collection size
	n := s.collection.Count()
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return nil, nil
	}

	results, err := s.collection.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		if r.Similarity <= 0 {
			continue
		}
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// Len returns the number of documents.
func (s *Store) Len() int {
	return s.collection.Count()
}

// Close releases resources. Persistent databases write on every add.
func (s *Store) Close() error {
	return nil
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	for _, x := range vec {
		if x != 0 {
			return vec, nil
		}
	}
	return nil, ErrEmptyText
}
