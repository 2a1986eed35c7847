package detect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeEmbedder returns a fixed vector per input and records call shape.
type fakeEmbedder struct {
	mu        sync.Mutex
	vectors   map[string][]float64
	calls     int
	maxBatch  int
	inflight  int32
	peakConc  int32
	failAfter int // fail every call once calls > failAfter; 0 disables
}

func (f *fakeEmbedder) CreateEmbeddings(ctx context.Context, model string, inputs []string) ([][]float64, error) {
	cur := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		peak := atomic.LoadInt32(&f.peakConc)
		if cur <= peak || atomic.CompareAndSwapInt32(&f.peakConc, peak, cur) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	if len(inputs) > f.maxBatch {
		f.maxBatch = len(inputs)
	}
	fail := f.failAfter > 0 && f.calls > f.failAfter
	f.mu.Unlock()
	if fail {
		return nil, errors.New("backend down")
	}

	out := make([][]float64, len(inputs))
	for i, in := range inputs {
		if f.vectors != nil {
			if v, ok := f.vectors[in]; ok {
				out[i] = v
				continue
			}
		}
		out[i] = []float64{float64(len(in)), 1}
	}
	return out, nil
}

func TestEmbeddingCacheFIFOEviction(t *testing.T) {
	fe := &fakeEmbedder{}
	c := NewEmbeddingCache(fe, "embed-v3", 10, 1, 3)

	phrases := []string{"aa", "bb", "cc"}
	c.Lookup(context.Background(), phrases)
	if c.Size() != 3 {
		t.Fatalf("size = %d, want 3", c.Size())
	}

	c.Lookup(context.Background(), []string{"dd"})
	if c.Size() != 3 {
		t.Fatalf("size = %d after eviction, want 3", c.Size())
	}

	// "bb" survived and must be a cache hit. Check it before touching "aa":
	// refetching "aa" into the full cache would evict "bb" in turn.
	before := fe.calls
	c.Lookup(context.Background(), []string{"bb"})
	if fe.calls != before {
		t.Fatal("surviving entry was refetched")
	}
	// "aa" was oldest and must be gone; fetching it again costs a call.
	before = fe.calls
	c.Lookup(context.Background(), []string{"aa"})
	if fe.calls != before+1 {
		t.Fatal("oldest entry was not evicted")
	}
}

func TestEmbeddingCacheBatching(t *testing.T) {
	fe := &fakeEmbedder{}
	c := NewEmbeddingCache(fe, "embed-v3", 10, 4, 300)

	var phrases []string
	for i := 0; i < 25; i++ {
		phrases = append(phrases, fmt.Sprintf("phrase-%02d", i))
	}
	got := c.Lookup(context.Background(), phrases)
	if len(got) != 25 {
		t.Fatalf("got %d vectors, want 25", len(got))
	}
	if fe.maxBatch > 10 {
		t.Fatalf("max batch = %d, want <= 10", fe.maxBatch)
	}
	if fe.calls != 3 {
		t.Fatalf("calls = %d, want 3 (25 split by 10)", fe.calls)
	}
	if fe.peakConc > 4 {
		t.Fatalf("peak concurrency = %d, want <= 4", fe.peakConc)
	}
}

func TestEmbeddingCacheFailedBatchSkipped(t *testing.T) {
	fe := &fakeEmbedder{failAfter: 1}
	c := NewEmbeddingCache(fe, "embed-v3", 2, 1, 300)

	got := c.Lookup(context.Background(), []string{"aa", "bb", "cc", "dd"})
	if len(got) != 2 {
		t.Fatalf("got %d vectors, want 2 (second batch failed)", len(got))
	}
	// Failed phrases are retryable on the next cycle.
	fe.mu.Lock()
	fe.failAfter = 0
	fe.calls = 0
	fe.mu.Unlock()
	got = c.Lookup(context.Background(), []string{"cc", "dd"})
	if len(got) != 2 {
		t.Fatalf("retry after failure got %d vectors, want 2", len(got))
	}
}

func TestEmbeddingCacheDedupesInput(t *testing.T) {
	fe := &fakeEmbedder{}
	c := NewEmbeddingCache(fe, "embed-v3", 10, 1, 300)
	c.Lookup(context.Background(), []string{"aa", "aa", "aa"})
	if fe.maxBatch != 1 {
		t.Fatalf("duplicates were not collapsed, batch size %d", fe.maxBatch)
	}
}

func TestInitKeywordsPinned(t *testing.T) {
	fe := &fakeEmbedder{vectors: map[string][]float64{
		"check in": {1, 0},
	}}
	c := NewEmbeddingCache(fe, "embed-v3", 10, 1, 2)
	if err := c.InitKeywords(context.Background(), []string{"check in"}); err != nil {
		t.Fatalf("InitKeywords: %v", err)
	}
	// Fill and overflow the phrase cache; keyword vectors must survive.
	c.Lookup(context.Background(), []string{"aa", "bb", "cc"})
	kv := c.KeywordVectors()
	if _, ok := kv["check in"]; !ok {
		t.Fatal("keyword vector lost to phrase eviction")
	}
}
