// Package flat is an in-process knowledge mirror that ranks by brute-force
// cosine similarity and snapshots to a binary file.
package flat

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"sync"

	"github.com/goclaw/hmem/pkg/vectorindex/embed"
)

// ErrDimensionMismatch is returned when a snapshot was written with a
// different vector size.
var ErrDimensionMismatch = errors.New("flat: vector dimension mismatch")

// maxPreallocEntries bounds the map size hint taken from a snapshot header.
const maxPreallocEntries = 1 << 16

// Index holds one vector per knowledge id.
type Index struct {
	mu       sync.RWMutex
	embedder embed.Embedder
	path     string
	vectors  map[string][]float32 // knowledge id -> vector
	concepts map[string]string    // knowledge id -> concept
}

// New creates an empty index. A non-empty path is loaded when it exists and
// written by Close.
func New(embedder embed.Embedder, path string) (*Index, error) {
	idx := &Index{
		embedder: embedder,
		path:     path,
		vectors:  make(map[string][]float32),
		concepts: make(map[string]string),
	}
	if path == "" {
		return idx, nil
	}
	if err := idx.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return idx, nil
}

// Mirror embeds the knowledge and stores it under id, replacing any
// previous vector.
func (x *Index) Mirror(ctx context.Context, id, concept, description string, tags []string) error {
	vec, err := x.embedder.Embed(ctx, embed.Document(concept, description, tags))
	if err != nil {
		return fmt.Errorf("flat: embed %s: %w", id, err)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.vectors[id] = vec
	x.concepts[id] = concept
	return nil
}

// Search returns up to limit knowledge ids most similar to text. Hits with
// no positive similarity are dropped.
func (x *Index) Search(ctx context.Context, text string, limit int) ([]string, error) {
	query, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("flat: embed query: %w", err)
	}

	x.mu.RLock()
	type scored struct {
		id    string
		score float64
	}
	results := make([]scored, 0, len(x.vectors))
	for id, vec := range x.vectors {
		if sim := embed.Cosine(query, vec); sim > 0 {
			results = append(results, scored{id: id, score: sim})
		}
	}
	x.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].id < results[j].id
	})
	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.id
	}
	return ids, nil
}

// Remove deletes the vector of id.
func (x *Index) Remove(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.vectors, id)
	delete(x.concepts, id)
}

// Len returns the number of vectors.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Close writes the snapshot when a path is configured.
func (x *Index) Close() error {
	if x.path == "" {
		return nil
	}
	return x.Save(x.path)
}

// Save writes the index to path.
// Format: [dimension:uint32][count:uint32] then for each entry, ordered by id:
// [idLen:uint16][id][conceptLen:uint16][concept][vector:float32*dimension]
func (x *Index) Save(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("flat: save failed: %w", err)
	}
	w := bufio.NewWriter(f)

	if err := x.writeLocked(w); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flat: save failed: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flat: save failed: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("flat: save failed: %w", err)
	}
	return os.Rename(tmp, path)
}

func (x *Index) writeLocked(w io.Writer) error {
	dim := uint32(x.embedder.Dimension())
	if err := binary.Write(w, binary.LittleEndian, dim); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(x.vectors))); err != nil {
		return err
	}

	ids := make([]string, 0, len(x.vectors))
	for id := range x.vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := writeString(w, id); err != nil {
			return err
		}
		if err := writeString(w, x.concepts[id]); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, x.vectors[id]); err != nil {
			return err
		}
	}
	return nil
}

func writeString(w io.Writer, s string) error {
	if len(s) > 0xFFFF {
		return fmt.Errorf("string of %d bytes too long", len(s))
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// Load replaces the index contents with the snapshot at path.
func (x *Index) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("flat: load failed: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var dim, count uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("flat: load failed: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("flat: load failed: %w", err)
	}
	if int(dim) != x.embedder.Dimension() {
		return fmt.Errorf("%w: file has %d, index expects %d", ErrDimensionMismatch, dim, x.embedder.Dimension())
	}

	hint := min(count, maxPreallocEntries)
	vectors := make(map[string][]float32, hint)
	concepts := make(map[string]string, hint)
	for i := uint32(0); i < count; i++ {
		id, err := readString(r)
		if err != nil {
			return fmt.Errorf("flat: load failed: %w", err)
		}
		concept, err := readString(r)
		if err != nil {
			return fmt.Errorf("flat: load failed: %w", err)
		}
		vec := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return fmt.Errorf("flat: load failed: %w", err)
		}
		vectors[id] = vec
		concepts[id] = concept
	}

	x.mu.Lock()
	x.vectors = vectors
	x.concepts = concepts
	x.mu.Unlock()
	return nil
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
