package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/earshot/internal/asr"
	"github.com/earshot/internal/detect"
	"github.com/earshot/internal/logging"
	"github.com/earshot/internal/metrics"
	"github.com/earshot/internal/sink"
	"github.com/earshot/internal/web"
)

// Broadcaster pushes live events (fragments, alerts) to panel clients.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
}

// Options assembles a Pipeline. Components irrelevant to the mode are
// ignored.
type Options struct {
	Mode       Mode
	Keywords   []string
	Cooldown   time.Duration
	BufferMax  int
	BufferTail int

	Engine   asr.Engine
	Cache    *detect.EmbeddingCache
	Semantic *detect.SemanticMatcher
	Intent   *detect.IntentClassifier
	Audio    *detect.AudioClassifier

	// Codes, when set, records digit runs spotted in transcripts.
	Codes *detect.CodeRecorder

	Sinks  []sink.Sink
	Events Broadcaster

	// JoinTimeout bounds the wait for background workers on Stop.
	JoinTimeout time.Duration
}

// Pipeline routes audio to the recognizer, accumulates transcript text, runs
// the configured matchers and dispatches gated alerts.
type Pipeline struct {
	mode  Mode
	exact *detect.ExactMatcher
	gate  *detect.Gate

	engine   asr.Engine
	cache    *detect.EmbeddingCache
	semantic *detect.SemanticMatcher
	intent   *detect.IntentClassifier
	audio    *detect.AudioClassifier
	codes    *detect.CodeRecorder

	sinks  []sink.Sink
	events Broadcaster

	mu    sync.Mutex
	accum *detect.Accumulator

	semCh       chan string
	alerts      atomic.Uint64
	joinTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	// dispatchWg tracks in-flight alert fan-outs separately from the worker
	// loops: workers raise alerts, so their WaitGroup cannot also count the
	// dispatches they spawn.
	dispatchWg sync.WaitGroup
}

func New(opts Options) *Pipeline {
	if opts.BufferMax <= 0 {
		opts.BufferMax = 500
	}
	if opts.BufferTail <= 0 || opts.BufferTail >= opts.BufferMax {
		opts.BufferTail = opts.BufferMax / 2
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = 5 * time.Second
	}
	p := &Pipeline{
		mode:        opts.Mode,
		exact:       detect.NewExactMatcher(opts.Keywords),
		gate:        detect.NewGate(opts.Cooldown),
		sinks:       opts.Sinks,
		events:      opts.Events,
		accum:       detect.NewAccumulator(opts.BufferMax, opts.BufferTail),
		codes:       opts.Codes,
		joinTimeout: opts.JoinTimeout,
	}
	if opts.Mode.usesText() {
		p.engine = opts.Engine
	}
	if opts.Mode.usesSemantic() {
		p.cache = opts.Cache
		p.semantic = opts.Semantic
		p.semCh = make(chan string, 1)
	}
	if opts.Mode.usesIntent() {
		p.intent = opts.Intent
	}
	if opts.Mode.usesAudio() {
		p.audio = opts.Audio
	}
	return p
}

// Start brings up the mode's layers and begins consuming results.
func (p *Pipeline) Start(ctx context.Context) error {
	if p.mode.usesText() && p.engine == nil {
		return fmt.Errorf("mode %s needs a recognition engine", p.mode)
	}
	if p.cache != nil {
		if err := p.cache.InitKeywords(ctx, p.exact.Keywords()); err != nil {
			return fmt.Errorf("embed keywords: %w", err)
		}
	}
	if p.engine != nil {
		if err := p.engine.Start(); err != nil {
			return fmt.Errorf("start recognizer: %w", err)
		}
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())

	if p.intent != nil {
		p.intent.Start()
		p.wg.Add(1)
		go p.intentLoop()
	}
	if p.audio != nil {
		p.audio.Start()
		p.wg.Add(1)
		go p.audioLoop()
	}
	if p.semantic != nil {
		p.wg.Add(1)
		go p.semanticWorker()
	}
	if p.engine != nil {
		p.wg.Add(1)
		go p.fragmentLoop()
	}
	logging.Infow("pipeline started", "mode", p.mode.String(), "keywords", len(p.exact.Keywords()))
	return nil
}

// FeedAudio routes one audio frame into the mode's consumers.
func (p *Pipeline) FeedAudio(frame []byte) {
	if p.engine != nil {
		p.engine.FeedAudio(frame)
	}
	if p.audio != nil {
		p.audio.FeedAudio(frame)
	}
}

// Stop shuts the layers down in dependency order and joins the workers with
// a bounded timeout. Callers stop the ingress first so no frames arrive
// during teardown.
func (p *Pipeline) Stop() {
	if p.engine != nil {
		p.engine.Stop()
	}
	if p.intent != nil {
		p.intent.Stop()
	}
	if p.audio != nil {
		p.audio.Stop()
	}
	if p.cancel != nil {
		p.cancel()
	}

	joined := make(chan struct{})
	go func() {
		// Workers first: once they are gone nothing can raise a new alert,
		// so the dispatch count can only fall.
		p.wg.Wait()
		p.dispatchWg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
		logging.Infow("pipeline stopped", "alerts", p.alerts.Load())
	case <-time.After(p.joinTimeout):
		logging.Warnw("pipeline workers did not stop in time, abandoning", "timeout", p.joinTimeout)
	}
}

// fragmentLoop consumes recognizer output until the engine stops.
func (p *Pipeline) fragmentLoop() {
	defer p.wg.Done()
	for f := range p.engine.Results() {
		p.handleFragment(f)
	}
	logging.Infow("recognizer stream ended")
}

// handleFragment appends the fragment, runs the inline exact layer and hands
// the fresh snapshot to the slower layers.
func (p *Pipeline) handleFragment(f asr.Fragment) {
	if p.events != nil {
		p.events.Broadcast("fragment", map[string]interface{}{"text": f.Text, "at": f.At})
	}

	p.mu.Lock()
	p.accum.Append(f.Text)
	snapshot := p.accum.Snapshot()
	p.mu.Unlock()

	p.recordCodes(f.Text)

	if found := p.exact.Find(snapshot); len(found) > 0 {
		p.raise(detect.Match{Keywords: found, Text: snapshot, Strategy: detect.StrategyExact, Score: 1})
	}
	if p.semCh != nil {
		p.offerSnapshot(snapshot)
	}
	if p.intent != nil {
		p.intent.FeedText(f.Text + " ")
	}
}

// recordCodes runs the transcript past the code recorder and surfaces new
// sightings to panel clients.
func (p *Pipeline) recordCodes(text string) {
	if p.codes == nil {
		return
	}
	if codes := p.codes.Check(text); len(codes) > 0 && p.events != nil {
		p.events.Broadcast("code", map[string]interface{}{"codes": codes})
	}
}

// offerSnapshot hands the worker the newest snapshot, overwriting a stale
// pending one. Embedding latency must never back up into transcript
// delivery.
func (p *Pipeline) offerSnapshot(snapshot string) {
	for {
		select {
		case p.semCh <- snapshot:
			return
		default:
			select {
			case <-p.semCh:
			default:
			}
		}
	}
}

func (p *Pipeline) semanticWorker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case snapshot := <-p.semCh:
			scored := p.semantic.FindSimilar(p.ctx, snapshot)
			if len(scored) == 0 {
				continue
			}
			keywords := make([]string, 0, len(scored))
			best := 0.0
			for _, s := range scored {
				keywords = append(keywords, s.Keyword)
				if s.Score > best {
					best = s.Score
				}
			}
			p.raise(detect.Match{Keywords: keywords, Text: snapshot, Strategy: detect.StrategySemantic, Score: best})
		}
	}
}

func (p *Pipeline) intentLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case res, ok := <-p.intent.Results():
			if !ok {
				return
			}
			if !res.Detected || len(res.Keywords) == 0 {
				continue
			}
			p.raise(detect.Match{Keywords: res.Keywords, Text: res.Reason, Strategy: detect.StrategyDeepIntent, Score: 1})
		}
	}
}

func (p *Pipeline) audioLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev, ok := <-p.audio.Results():
			if !ok {
				return
			}
			if p.events != nil && ev.Transcript != "" {
				p.events.Broadcast("fragment", map[string]interface{}{"text": ev.Transcript, "at": time.Now()})
			}
			p.recordCodes(ev.Transcript)
			p.raise(detect.Match{Keywords: ev.Keywords, Text: ev.Transcript, Strategy: detect.StrategyAudioDirect, Score: 1})
		}
	}
}

// raise runs a match through the gate and, if accepted, clears the buffer
// and dispatches the alert exactly once.
func (p *Pipeline) raise(m detect.Match) {
	metrics.Default.RecordMatch(string(m.Strategy))
	logging.Infow("keywords matched", logging.MatchFields(m.Keywords, string(m.Strategy), m.Score)...)

	if !p.gate.TryAccept() {
		metrics.Default.AlertsSuppressed.Inc()
		logging.Debugw("match suppressed by cooldown", "strategy", string(m.Strategy))
		return
	}
	metrics.Default.AlertsAccepted.Inc()
	p.alerts.Add(1)

	p.mu.Lock()
	p.accum.Clear()
	p.mu.Unlock()

	a := sink.NewAlert(m.Keywords, m.Text, string(m.Strategy))
	logging.Infow("alert accepted", logging.AlertFields(a.ID, a.Keywords, a.Strategy)...)

	p.dispatchWg.Add(1)
	go func() {
		defer p.dispatchWg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		sink.Fanout(ctx, a, p.sinks)
	}()
}

// Status implements web.Controller.
func (p *Pipeline) Status() web.Status {
	p.mu.Lock()
	bufLen := p.accum.Len()
	p.mu.Unlock()

	st := web.Status{
		Mode:                p.mode.String(),
		Keywords:            p.exact.Keywords(),
		RecognizerState:     p.recognizerState(),
		BufferRunes:         bufLen,
		CooldownRemainingMs: p.gate.Remaining().Milliseconds(),
		AlertsAccepted:      p.alerts.Load(),
	}
	if p.semantic != nil {
		st.Threshold = p.semantic.Threshold()
	}
	return st
}

func (p *Pipeline) recognizerState() string {
	type stateful interface{ State() asr.State }
	if s, ok := p.engine.(stateful); ok {
		return s.State().String()
	}
	if p.engine != nil {
		return "running"
	}
	return "off"
}

// SetKeywords implements web.Controller. Semantic modes re-embed the new set
// before it takes effect; a failed re-embed leaves the old set in place.
func (p *Pipeline) SetKeywords(ctx context.Context, keywords []string) error {
	if p.cache != nil {
		if err := p.cache.InitKeywords(ctx, keywords); err != nil {
			return fmt.Errorf("embed keywords: %w", err)
		}
	}
	p.exact.SetKeywords(keywords)
	if p.intent != nil {
		p.intent.SetKeywords(keywords)
	}
	if p.audio != nil {
		p.audio.SetKeywords(keywords)
	}
	logging.Infow("keywords updated", "count", len(keywords))
	return nil
}

// SetThreshold implements web.Controller.
func (p *Pipeline) SetThreshold(threshold float64) error {
	if p.semantic == nil {
		return fmt.Errorf("semantic matching not active in mode %s", p.mode)
	}
	p.semantic.SetThreshold(threshold)
	return nil
}
