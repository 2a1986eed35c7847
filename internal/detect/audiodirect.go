package detect

import (
	"context"
	"sync"
	"time"

	"github.com/earshot/internal/audio"
	"github.com/earshot/internal/llm"
	"github.com/earshot/internal/logging"
)

// AudioJudge is the slice of the LLM client the audio classifier needs.
type AudioJudge interface {
	ClassifyAudio(ctx context.Context, model string, keywords []string, wav []byte) (llm.AudioResult, error)
}

// AudioEvent is a positive verdict from the audio-understanding backend.
type AudioEvent struct {
	Transcript string
	Keywords   []string
}

// AudioClassifier buffers raw PCM16LE and sends fixed-length windows
// straight to a multimodal backend, skipping text recognition entirely.
// Useful when the recognizer garbles the watched phrases but the raw audio
// still carries them.
type AudioClassifier struct {
	client     AudioJudge
	model      string
	sampleRate int
	channels   int
	windowLen  int

	mu       sync.Mutex
	keywords []string
	buf      []byte

	results chan AudioEvent
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewAudioClassifier(client AudioJudge, model string, keywords []string, sampleRate, channels int, window time.Duration) *AudioClassifier {
	if window <= 0 {
		window = 4 * time.Second
	}
	return &AudioClassifier{
		client:     client,
		model:      model,
		sampleRate: sampleRate,
		channels:   channels,
		windowLen:  int(window.Seconds()) * sampleRate * channels * 2,
		keywords:   append([]string(nil), keywords...),
		results:    make(chan AudioEvent, 4),
	}
}

// SetKeywords replaces the watched keyword set for future windows.
func (a *AudioClassifier) SetKeywords(keywords []string) {
	a.mu.Lock()
	a.keywords = append([]string(nil), keywords...)
	a.mu.Unlock()
}

// FeedAudio appends raw PCM16LE bytes to the pending window. The buffer is
// capped at three windows; older audio is discarded when the backend cannot
// keep up.
func (a *AudioClassifier) FeedAudio(frame []byte) {
	a.mu.Lock()
	a.buf = append(a.buf, frame...)
	if max := 3 * a.windowLen; len(a.buf) > max {
		a.buf = append(a.buf[:0:0], a.buf[len(a.buf)-max:]...)
	}
	a.mu.Unlock()
}

// Results delivers positive audio verdicts.
func (a *AudioClassifier) Results() <-chan AudioEvent {
	return a.results
}

// Start launches the window loop.
func (a *AudioClassifier) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.run(ctx)
}

// Stop ends the loop and waits for the in-flight window, if any.
func (a *AudioClassifier) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
}

func (a *AudioClassifier) run(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.window(ctx)
		}
	}
}

// window cuts one full window off the buffer, if available, and classifies it.
func (a *AudioClassifier) window(ctx context.Context) {
	a.mu.Lock()
	if len(a.buf) < a.windowLen {
		a.mu.Unlock()
		return
	}
	pcm := append([]byte(nil), a.buf[:a.windowLen]...)
	a.buf = append(a.buf[:0:0], a.buf[a.windowLen:]...)
	keywords := append([]string(nil), a.keywords...)
	a.mu.Unlock()

	if len(keywords) == 0 {
		return
	}
	wav := audio.BuildWAV(pcm, a.sampleRate, a.channels, 16)
	res, err := a.client.ClassifyAudio(ctx, a.model, keywords, wav)
	if err != nil {
		logging.Warnw("audio classification failed", "error", err)
		return
	}
	if len(res.Keywords) == 0 {
		return
	}
	select {
	case a.results <- AudioEvent{Transcript: res.Transcript, Keywords: res.Keywords}:
	default:
		logging.Warnw("audio verdict dropped, consumer too slow")
	}
}
