package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/earshot/internal/audio"
	"github.com/earshot/internal/logging"
	"github.com/earshot/internal/metrics"
)

// BlockOptions configures a BlockEngine.
type BlockOptions struct {
	URL        string
	SampleRate int
	Channels   int
	ChunkMs    int           // audio per request, default 600ms
	Timeout    time.Duration // per-request budget, default 15s
}

// BlockEngine is the non-streaming fallback: it cuts the incoming PCM into
// fixed-length chunks, wraps each in a WAV and POSTs it to an HTTP
// recognizer. One chunk in flight at a time; transient failures are retried
// with exponential backoff before the chunk is dropped.
type BlockEngine struct {
	opts BlockOptions
	http *http.Client

	chunkLen int

	mu  sync.Mutex
	buf []byte

	results  chan Fragment
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func NewBlockEngine(opts BlockOptions) *BlockEngine {
	if opts.ChunkMs <= 0 {
		opts.ChunkMs = 600
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	return &BlockEngine{
		opts:     opts,
		http:     &http.Client{Timeout: opts.Timeout},
		chunkLen: opts.SampleRate * opts.Channels * 2 * opts.ChunkMs / 1000,
		results:  make(chan Fragment, 32),
	}
}

func (e *BlockEngine) Start() error {
	if e.opts.URL == "" {
		return fmt.Errorf("recognizer url not configured")
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.run(ctx)
	return nil
}

// FeedAudio appends PCM16LE bytes to the pending chunk. The buffer is capped
// at ten chunks so a stalled recognizer cannot grow it without bound.
func (e *BlockEngine) FeedAudio(frame []byte) {
	e.mu.Lock()
	e.buf = append(e.buf, frame...)
	if max := 10 * e.chunkLen; len(e.buf) > max {
		metrics.Default.AudioFramesDropped.Inc()
		e.buf = append(e.buf[:0:0], e.buf[len(e.buf)-max:]...)
	}
	e.mu.Unlock()
}

func (e *BlockEngine) Results() <-chan Fragment {
	return e.results
}

func (e *BlockEngine) Stop() {
	e.stopOnce.Do(func() {
		if e.cancel == nil {
			close(e.results)
			return
		}
		e.cancel()
		<-e.done
	})
}

func (e *BlockEngine) run(ctx context.Context) {
	defer close(e.done)
	defer close(e.results)
	ticker := time.NewTicker(time.Duration(e.opts.ChunkMs) * time.Millisecond / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.flush(ctx)
		}
	}
}

// flush sends one full chunk if available.
func (e *BlockEngine) flush(ctx context.Context) {
	e.mu.Lock()
	if len(e.buf) < e.chunkLen {
		e.mu.Unlock()
		return
	}
	pcm := append([]byte(nil), e.buf[:e.chunkLen]...)
	e.buf = append(e.buf[:0:0], e.buf[e.chunkLen:]...)
	e.mu.Unlock()

	text, err := e.recognize(ctx, pcm)
	if err != nil {
		metrics.Default.RecognizeErrors.WithLabelValues("http").Inc()
		logging.Warnw("chunk recognition failed", "error", err)
		return
	}
	if text == "" {
		return
	}
	metrics.Default.Fragments.Inc()
	select {
	case e.results <- Fragment{Text: text, At: time.Now()}:
	default:
		logging.Warnw("dropping transcript fragment, consumer too slow")
	}
}

// recognize POSTs one WAV chunk, retrying transient failures with
// exponential backoff.
func (e *BlockEngine) recognize(ctx context.Context, pcm []byte) (string, error) {
	wav := audio.BuildWAV(pcm, e.opts.SampleRate, e.opts.Channels, 16)
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
		req, err := http.NewRequestWithContext(ctx, "POST", e.opts.URL, bytes.NewReader(wav))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "audio/wav")
		resp, err := e.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("recognizer status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 300 {
			resp.Body.Close()
			return "", fmt.Errorf("recognizer status %d", resp.StatusCode)
		}
		var out struct {
			Text string `json:"text"`
		}
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return strings.TrimSpace(out.Text), nil
	}
	return "", lastErr
}
