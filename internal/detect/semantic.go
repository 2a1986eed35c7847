package detect

import (
	"context"
	"math"
	"strings"
	"sync"
)

const (
	phraseMinLen   = 2
	phraseMaxLen   = 4
	phraseTailLen  = 15
	phraseCapCount = 20
)

// SemanticMatcher compares sliding-window phrases from the transcript tail
// against the watched keyword vectors by cosine similarity.
type SemanticMatcher struct {
	cache *EmbeddingCache

	mu        sync.RWMutex
	threshold float64
}

func NewSemanticMatcher(cache *EmbeddingCache, threshold float64) *SemanticMatcher {
	return &SemanticMatcher{cache: cache, threshold: threshold}
}

// SetThreshold updates the similarity threshold at runtime.
func (s *SemanticMatcher) SetThreshold(t float64) {
	s.mu.Lock()
	s.threshold = t
	s.mu.Unlock()
}

// Threshold returns the current similarity threshold.
func (s *SemanticMatcher) Threshold() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

// Scored is a keyword that cleared the similarity threshold, with the best
// matching phrase and its score.
type Scored struct {
	Keyword string
	Phrase  string
	Score   float64
}

// FindSimilar extracts candidate phrases from text and returns every keyword
// whose vector is within the threshold of at least one phrase. Each keyword
// appears at most once, attributed to the first phrase that matched it.
func (s *SemanticMatcher) FindSimilar(ctx context.Context, text string) []Scored {
	phrases := ExtractPhrases(text)
	if len(phrases) == 0 {
		return nil
	}
	vectors := s.cache.Lookup(ctx, phrases)
	keywords := s.cache.KeywordVectors()
	if len(keywords) == 0 {
		return nil
	}
	threshold := s.Threshold()

	var out []Scored
	matched := make(map[string]struct{})
	for _, phrase := range phrases {
		pv, ok := vectors[phrase]
		if !ok {
			continue
		}
		for kw, kv := range keywords {
			if _, done := matched[kw]; done {
				continue
			}
			if sim := cosine(pv, kv); sim >= threshold {
				matched[kw] = struct{}{}
				out = append(out, Scored{Keyword: kw, Phrase: phrase, Score: sim})
			}
		}
	}
	return out
}

// ExtractPhrases builds deduplicated sliding windows of 2 to 4 runes over
// the trailing 15 runes of text, capped at 20 candidates. Text shorter than
// the minimum window is returned whole.
func ExtractPhrases(text string) []string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) < phraseMinLen {
		return []string{text}
	}
	if len(runes) > phraseTailLen {
		runes = runes[len(runes)-phraseTailLen:]
	}

	var phrases []string
	seen := make(map[string]struct{})
	for size := phraseMinLen; size <= phraseMaxLen; size++ {
		for i := 0; i+size <= len(runes); i++ {
			p := string(runes[i : i+size])
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			phrases = append(phrases, p)
			if len(phrases) >= phraseCapCount {
				return phrases
			}
		}
	}
	return phrases
}

// cosine returns the cosine similarity of two vectors, or 0 when either has
// zero magnitude or the dimensions differ.
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
