// Package relevance scores content against a free-text query.
package relevance

import (
	"strings"
	"sync"
	"unicode"

	"github.com/golang/groupcache/lru"
	"lukechampine.com/blake3"

	"xrepo/internal/output"
)

// Defaults for the structural boost.
const (
	DefaultHighScoreThreshold = 0.5
	DefaultStructuralBoost    = 0.15
	DefaultCacheEntries       = 4096
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "how": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {},
	"or": {}, "the": {}, "this": {}, "to": {}, "what": {}, "where": {}, "with": {},
}

// Terms splits text into lowercase search terms. Identifiers are split on
// camelCase and snake_case boundaries and also kept whole.
func Terms(text string) []string {
	seen := make(map[string]struct{})
	var terms []string
	add := func(t string) {
		t = strings.ToLower(t)
		if len(t) < 2 {
			return
		}
		if _, stop := stopWords[t]; stop {
			return
		}
		if _, dup := seen[t]; dup {
			return
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}

	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, w := range words {
		parts := splitIdentifier(w)
		if len(parts) > 1 {
			add(strings.ReplaceAll(w, "_", ""))
		}
		for _, p := range parts {
			add(p)
		}
	}
	return terms
}

// splitIdentifier breaks "parseHTTPRequest_v2" into parse, HTTP, Request, v2.
func splitIdentifier(w string) []string {
	var parts []string
	for _, chunk := range strings.Split(w, "_") {
		runes := []rune(chunk)
		start := 0
		for i := 1; i < len(runes); i++ {
			prev, cur := runes[i-1], runes[i]
			boundary := unicode.IsLower(prev) && unicode.IsUpper(cur)
			if unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
				boundary = true
			}
			if boundary {
				parts = append(parts, string(runes[start:i]))
				start = i
			}
		}
		if start < len(runes) {
			parts = append(parts, string(runes[start:]))
		}
	}
	return parts
}

// Coverage returns the fraction of query terms present in text. It is a pure
// function: more covered query terms never lower the result.
func Coverage(query, text string) float64 {
	qTerms := Terms(query)
	if len(qTerms) == 0 {
		return 0
	}
	tTerms := make(map[string]struct{})
	for _, t := range Terms(text) {
		tTerms[t] = struct{}{}
	}
	hits := 0
	for _, q := range qTerms {
		if _, ok := tTerms[q]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(qTerms))
}

type cacheKey struct {
	query   [32]byte
	content [32]byte
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// Scorer computes relevance scores with a bounded cache keyed by the BLAKE3
// hashes of query and content. Safe for concurrent use.
type Scorer struct {
	threshold float64
	boost     float64

	mu     sync.Mutex
	cache  *lru.Cache
	hits   int64
	misses int64
}

// Options configures a Scorer.
type Options struct {
	HighScoreThreshold float64
	StructuralBoost    float64
	CacheEntries       int
}

// DefaultOptions returns the default scorer options.
func DefaultOptions() Options {
	return Options{
		HighScoreThreshold: DefaultHighScoreThreshold,
		StructuralBoost:    DefaultStructuralBoost,
		CacheEntries:       DefaultCacheEntries,
	}
}

// NewScorer creates a scorer.
func NewScorer(opts Options) *Scorer {
	if opts.CacheEntries <= 0 {
		opts.CacheEntries = DefaultCacheEntries
	}
	return &Scorer{
		threshold: opts.HighScoreThreshold,
		boost:     opts.StructuralBoost,
		cache:     lru.New(opts.CacheEntries),
	}
}

// Score returns the base relevance of text for query in [0,1].
func (s *Scorer) Score(query, text string) float64 {
	key := cacheKey{query: blake3.Sum256([]byte(query)), content: blake3.Sum256([]byte(text))}

	s.mu.Lock()
	if v, ok := s.cache.Get(key); ok {
		s.hits++
		s.mu.Unlock()
		return v.(float64)
	}
	s.misses++
	s.mu.Unlock()

	score := output.RoundFloat(Coverage(query, text))

	s.mu.Lock()
	s.cache.Add(key, score)
	s.mu.Unlock()
	return score
}

// ScoreWindow scores every text and adds the structural boost to items that
// are a direct dependency of another item whose base score reaches the
// threshold. isDependency(dep, of) reports whether item dep is a direct graph
// dependency of item of. Scores are clamped to 1.
func (s *Scorer) ScoreWindow(query string, texts []string, isDependency func(dep, of int) bool) []float64 {
	base := make([]float64, len(texts))
	for i, t := range texts {
		base[i] = s.Score(query, t)
	}
	if isDependency == nil || s.boost == 0 {
		return base
	}

	scores := make([]float64, len(texts))
	copy(scores, base)
	for i := range texts {
		for j := range texts {
			if i == j || base[j] < s.threshold || base[j] == 0 {
				continue
			}
			if isDependency(i, j) {
				scores[i] = output.RoundFloat(min(1, base[i]+s.boost))
				break
			}
		}
	}
	return scores
}

// Stats returns cache statistics.
func (s *Scorer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Hits: s.hits, Misses: s.misses, Entries: s.cache.Len()}
}
