// Package vectorindex opens the configured knowledge mirror.
package vectorindex

import (
	"fmt"

	"github.com/goclaw/hmem/config"
	"github.com/goclaw/hmem/pkg/memory"
	"github.com/goclaw/hmem/pkg/vectorindex/chromem"
	"github.com/goclaw/hmem/pkg/vectorindex/embed"
	"github.com/goclaw/hmem/pkg/vectorindex/flat"
	"github.com/goclaw/hmem/pkg/vectorindex/qdrant"
)

// Index is a knowledge mirror that can answer free-text queries.
type Index interface {
	memory.VectorIndex
	memory.TextSearcher
	Close() error
}

var (
	_ Index = (*flat.Index)(nil)
	_ Index = (*chromem.Store)(nil)
	_ Index = (*qdrant.Store)(nil)
)

// Open builds the index selected by cfg.Type. It returns nil for "none".
func Open(cfg config.VectorConfig) (Index, error) {
	embedder := embed.NewHashEmbedder(cfg.Dimension)

	var (
		idx Index
		err error
	)
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "flat":
		idx, err = flat.New(embedder, cfg.Flat.Path)
	case "chromem":
		idx, err = chromem.New(chromem.Config{
			Collection: cfg.Collection,
			Path:       cfg.Chromem.Path,
			Compress:   cfg.Chromem.Compress,
		}, embedder)
	case "qdrant":
		idx, err = qdrant.New(qdrant.Config{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.UseTLS,
			Collection: cfg.Collection,
		}, embedder)
	default:
		return nil, fmt.Errorf("unsupported vector index type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return idx, nil
}
