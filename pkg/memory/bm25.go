package memory

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// textIndex ranks semantic knowledge against free text with BM25. It backs
// MemoryContext when a query matches no tag.
type textIndex struct {
	mu sync.RWMutex

	k1 float64
	b  float64

	// term -> set of knowledge ids
	inverted map[string]map[string]struct{}

	// knowledge id -> term frequencies
	termFreqs map[string]map[string]int

	docLengths map[string]int
	totalDocs  int
	totalLen   int
}

func newTextIndex(k1, b float64) *textIndex {
	return &textIndex{
		k1:         k1,
		b:          b,
		inverted:   make(map[string]map[string]struct{}),
		termFreqs:  make(map[string]map[string]int),
		docLengths: make(map[string]int),
	}
}

// index adds or replaces the document for id.
func (idx *textIndex) index(id, content string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.termFreqs[id]; exists {
		idx.removeLocked(id)
	}

	tokens := Tokenize(content)
	freqs := make(map[string]int, len(tokens))
	for _, token := range tokens {
		freqs[token]++
	}

	idx.termFreqs[id] = freqs
	idx.docLengths[id] = len(tokens)
	idx.totalDocs++
	idx.totalLen += len(tokens)

	for term := range freqs {
		if idx.inverted[term] == nil {
			idx.inverted[term] = make(map[string]struct{})
		}
		idx.inverted[term][id] = struct{}{}
	}
}

// reset drops every document.
func (idx *textIndex) reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.inverted = make(map[string]map[string]struct{})
	idx.termFreqs = make(map[string]map[string]int)
	idx.docLengths = make(map[string]int)
	idx.totalDocs = 0
	idx.totalLen = 0
}

func (idx *textIndex) removeLocked(id string) {
	freqs, exists := idx.termFreqs[id]
	if !exists {
		return
	}
	for term := range freqs {
		if docs, ok := idx.inverted[term]; ok {
			delete(docs, id)
			if len(docs) == 0 {
				delete(idx.inverted, term)
			}
		}
	}
	idx.totalLen -= idx.docLengths[id]
	idx.totalDocs--
	delete(idx.termFreqs, id)
	delete(idx.docLengths, id)
}

// search returns up to topK ids ranked by BM25 score.
func (idx *textIndex) search(query string, topK int) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.totalDocs == 0 {
		return nil
	}
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}
	avgDL := float64(idx.totalLen) / float64(idx.totalDocs)

	candidates := make(map[string]struct{})
	for _, token := range queryTokens {
		for id := range idx.inverted[token] {
			candidates[id] = struct{}{}
		}
	}

	type scored struct {
		id    string
		score float64
	}
	results := make([]scored, 0, len(candidates))
	for id := range candidates {
		if score := idx.scoreLocked(id, queryTokens, avgDL); score > 0 {
			results = append(results, scored{id: id, score: score})
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].id < results[j].id
	})

	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.id
	}
	return ids
}

// scoreLocked must be called with the read lock held.
func (idx *textIndex) scoreLocked(id string, queryTokens []string, avgDL float64) float64 {
	docLen := float64(idx.docLengths[id])
	freqs := idx.termFreqs[id]
	score := 0.0

	for _, term := range queryTokens {
		tf := float64(freqs[term])
		if tf == 0 {
			continue
		}
		// IDF: log((N - n + 0.5) / (n + 0.5) + 1)
		n := float64(len(idx.inverted[term]))
		idf := math.Log((float64(idx.totalDocs)-n+0.5)/(n+0.5) + 1.0)

		numerator := tf * (idx.k1 + 1)
		denominator := tf + idx.k1*(1-idx.b+idx.b*docLen/avgDL)
		score += idf * numerator / denominator
	}
	return score
}

func (idx *textIndex) len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.totalDocs
}

// Tokenize lowercases text and splits it into letter/digit runs, dropping
// stop words. Han characters become single tokens.
func Tokenize(text string) []string {
	text = strings.ToLower(text)

	tokens := make([]string, 0, len(text)/4)
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		token := current.String()
		if _, isStop := stopWords[token]; !isStop {
			tokens = append(tokens, token)
		}
		current.Reset()
	}

	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			flush()
			tokens = append(tokens, string(r))
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

// queryTags turns a free-text query into distinct tag candidates.
func queryTags(query string) []string {
	return normalizeTags(Tokenize(query))
}

var stopWords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "is", "are", "was", "were", "be", "been", "being",
		"have", "has", "had", "do", "does", "did", "will", "would", "could",
		"should", "may", "might", "shall", "can", "need", "dare", "ought",
		"used", "to", "of", "in", "for", "on", "with", "at", "by", "from",
		"as", "into", "through", "during", "before", "after", "above", "below",
		"between", "out", "off", "over", "under", "again", "further", "then",
		"once", "and", "but", "or", "nor", "not", "so", "yet", "both",
		"either", "neither", "each", "every", "all", "any", "few", "more",
		"most", "other", "some", "such", "no", "only", "own", "same", "than",
		"too", "very", "just", "because", "if", "when", "where", "how", "what",
		"which", "who", "whom", "this", "that", "these", "those", "i", "me",
		"my", "myself", "we", "our", "ours", "ourselves", "you", "your",
		"yours", "yourself", "yourselves", "he", "him", "his", "himself",
		"she", "her", "hers", "herself", "it", "its", "itself", "they",
		"them", "their", "theirs", "themselves",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
