package detect

import (
	"context"
	"sync"

	"github.com/earshot/internal/logging"
	"github.com/earshot/internal/metrics"
)

// Embedder fetches embedding vectors for a batch of inputs.
type Embedder interface {
	CreateEmbeddings(ctx context.Context, model string, inputs []string) ([][]float64, error)
}

// EmbeddingCache holds keyword vectors plus a bounded FIFO cache of phrase
// vectors. Keyword vectors are pinned; phrase entries are evicted oldest
// first once the cache is full. Remote fetches for uncached phrases run in
// bounded batches so a burst of new phrases cannot fan out into unbounded
// concurrent requests.
type EmbeddingCache struct {
	client      Embedder
	model       string
	batchSize   int
	concurrency int
	maxSize     int

	mu       sync.Mutex
	keywords map[string][]float64
	phrases  map[string][]float64
	order    []string
}

func NewEmbeddingCache(client Embedder, model string, batchSize, concurrency, maxSize int) *EmbeddingCache {
	if batchSize <= 0 {
		batchSize = 10
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &EmbeddingCache{
		client:      client,
		model:       model,
		batchSize:   batchSize,
		concurrency: concurrency,
		maxSize:     maxSize,
		keywords:    make(map[string][]float64),
		phrases:     make(map[string][]float64),
	}
}

// InitKeywords fetches and pins vectors for the watched keywords. Called at
// startup and again whenever the keyword set changes at runtime; the old
// keyword vectors are replaced wholesale.
func (c *EmbeddingCache) InitKeywords(ctx context.Context, keywords []string) error {
	fresh := make(map[string][]float64, len(keywords))
	for start := 0; start < len(keywords); start += c.batchSize {
		end := start + c.batchSize
		if end > len(keywords) {
			end = len(keywords)
		}
		batch := keywords[start:end]
		vectors, err := c.client.CreateEmbeddings(ctx, c.model, batch)
		if err != nil {
			return err
		}
		for i, kw := range batch {
			fresh[kw] = vectors[i]
		}
	}
	c.mu.Lock()
	c.keywords = fresh
	c.mu.Unlock()
	return nil
}

// KeywordVectors returns a snapshot of the pinned keyword vectors.
func (c *EmbeddingCache) KeywordVectors() map[string][]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]float64, len(c.keywords))
	for k, v := range c.keywords {
		out[k] = v
	}
	return out
}

// Lookup returns vectors for the given phrases, fetching uncached ones from
// the backend. Failed batches are logged and skipped: a phrase with no
// vector simply produces no result this cycle and may be retried on the
// next one. Never returns an error for that reason.
func (c *EmbeddingCache) Lookup(ctx context.Context, phrases []string) map[string][]float64 {
	result := make(map[string][]float64, len(phrases))
	var missing []string
	seen := make(map[string]struct{}, len(phrases))

	c.mu.Lock()
	for _, p := range phrases {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		if vec, ok := c.phrases[p]; ok {
			result[p] = vec
			metrics.Default.EmbedCacheHits.Inc()
		} else {
			missing = append(missing, p)
			metrics.Default.EmbedCacheMisses.Inc()
		}
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return result
	}

	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, c.concurrency)
		rmu sync.Mutex
	)
	for start := 0; start < len(missing); start += c.batchSize {
		end := start + c.batchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]
		wg.Add(1)
		sem <- struct{}{}
		go func(batch []string) {
			defer wg.Done()
			defer func() { <-sem }()
			vectors, err := c.client.CreateEmbeddings(ctx, c.model, batch)
			if err != nil {
				logging.Debugw("embedding batch failed", "count", len(batch), "error", err)
				return
			}
			c.mu.Lock()
			for i, p := range batch {
				c.store(p, vectors[i])
			}
			c.mu.Unlock()
			rmu.Lock()
			for i, p := range batch {
				result[p] = vectors[i]
			}
			rmu.Unlock()
		}(batch)
	}
	wg.Wait()
	return result
}

// Size returns the number of cached phrase vectors.
func (c *EmbeddingCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.phrases)
}

// store inserts a phrase vector, evicting the oldest entry when full.
// Re-storing an existing phrase updates the vector but keeps its original
// position in the eviction order. Caller holds c.mu.
func (c *EmbeddingCache) store(phrase string, vec []float64) {
	if _, ok := c.phrases[phrase]; ok {
		c.phrases[phrase] = vec
		return
	}
	if c.maxSize > 0 && len(c.phrases) >= c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.phrases, oldest)
		metrics.Default.EmbedEvictions.Inc()
	}
	c.phrases[phrase] = vec
	c.order = append(c.order, phrase)
}
