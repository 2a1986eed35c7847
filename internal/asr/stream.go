package asr

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/earshot/internal/logging"
	"github.com/earshot/internal/metrics"
)

// StreamOptions configures a StreamEngine.
type StreamOptions struct {
	URL          string
	QueueSize    int           // pending frame budget, default 100
	MaxReconnect int           // reconnect attempts before giving up, default 10
	Backoff      time.Duration // pause between attempts, default 1s
}

// streamResult is the wire format of the recognizer: one JSON text message
// per recognized segment.
type streamResult struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// StreamEngine keeps a websocket session to a streaming recognizer: audio
// frames go out as binary messages, transcript fragments come back as JSON
// text messages. A broken session is re-dialed up to MaxReconnect times with
// a fixed pause; the pending frame queue is flushed on every reconnect since
// stale audio is worse than lost audio. Exhausting the budget parks the
// engine in the disconnected state, where FeedAudio silently discards.
type StreamEngine struct {
	opts  StreamOptions
	id    string
	state atomic.Int32

	queue   chan []byte
	results chan Fragment
	stop    chan struct{}

	mu      sync.Mutex
	conn    *websocket.Conn
	started atomic.Bool

	stopOnce sync.Once
	done     chan struct{}
}

func NewStreamEngine(opts StreamOptions) *StreamEngine {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.MaxReconnect <= 0 {
		opts.MaxReconnect = 10
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	return &StreamEngine{
		opts:    opts,
		id:      uuid.NewString(),
		queue:   make(chan []byte, opts.QueueSize),
		results: make(chan Fragment, 32),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// State returns the current session state.
func (e *StreamEngine) State() State {
	return State(e.state.Load())
}

// Start dials the recognizer. The first dial failure is returned to the
// caller; transport failures after that are handled by the reconnect loop.
func (e *StreamEngine) Start() error {
	e.state.Store(int32(StateConnecting))
	conn, err := e.dial()
	if err != nil {
		e.state.Store(int32(StateDisconnected))
		return fmt.Errorf("dial recognizer: %w", err)
	}
	e.setConn(conn)
	e.started.Store(true)
	go e.run()
	return nil
}

// FeedAudio enqueues one PCM frame. Frames are accepted while the engine is
// alive, including across a reconnect, so audio arriving around a session
// change is not lost. Only a full queue or a parked engine drops.
func (e *StreamEngine) FeedAudio(frame []byte) {
	if !e.started.Load() || e.State() == StateDisconnected {
		return
	}
	select {
	case e.queue <- append([]byte(nil), frame...):
	default:
		metrics.Default.AudioFramesDropped.Inc()
		logging.Debugw("dropping audio frame, recognizer queue full")
	}
}

// Results delivers transcript fragments until the engine stops.
func (e *StreamEngine) Results() <-chan Fragment {
	return e.results
}

// Stop closes the session and waits for the io loop to exit.
func (e *StreamEngine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
		e.closeConn()
	})
	if e.started.Load() {
		<-e.done
	}
}

func (e *StreamEngine) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(e.opts.URL, nil)
	return conn, err
}

func (e *StreamEngine) setConn(c *websocket.Conn) {
	e.mu.Lock()
	e.conn = c
	e.mu.Unlock()
}

func (e *StreamEngine) closeConn() {
	e.mu.Lock()
	if e.conn != nil {
		e.conn.Close()
	}
	e.mu.Unlock()
}

func (e *StreamEngine) stopped() bool {
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

// run owns the connection for the engine's whole life: session, reconnect,
// session again, until Stop or the reconnect budget runs out.
func (e *StreamEngine) run() {
	defer close(e.done)
	defer close(e.results)
	for {
		err := e.session()
		if e.stopped() {
			e.state.Store(int32(StateDisconnected))
			return
		}
		logging.Warnw("recognizer session broken", append(logging.StreamFields(e.id, e.State().String()), "error", err)...)
		if !e.reconnect() {
			e.state.Store(int32(StateDisconnected))
			metrics.Default.SessionsFailed.Inc()
			logging.Errorw("recognizer abandoned after reconnect budget", append(logging.StreamFields(e.id, "disconnected"), "attempts", e.opts.MaxReconnect)...)
			return
		}
	}
}

// session pumps the queue out and fragments in until the transport fails.
func (e *StreamEngine) session() error {
	e.state.Store(int32(StateConnected))
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()

	// sessionOver releases the writer when the read side fails; without it a
	// writer blocked on an empty queue would outlive the session.
	sessionOver := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-e.stop:
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			case <-sessionOver:
				return
			case frame := <-e.queue:
				if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	var readErr error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		var res streamResult
		if err := json.Unmarshal(data, &res); err != nil {
			metrics.Default.RecognizeErrors.WithLabelValues("decode").Inc()
			logging.Debugw("unparseable recognizer message", "error", err)
			continue
		}
		text := strings.TrimSpace(res.Text)
		if text == "" {
			continue
		}
		metrics.Default.Fragments.Inc()
		select {
		case e.results <- Fragment{Text: text, At: time.Now()}:
		default:
			logging.Warnw("dropping transcript fragment, consumer too slow")
		}
	}
	conn.Close()
	close(sessionOver)
	<-writerDone
	return readErr
}

// reconnect flushes stale frames and re-dials with a fixed pause between
// attempts. Returns false when the budget is exhausted or Stop intervened.
func (e *StreamEngine) reconnect() bool {
	e.state.Store(int32(StateReconnecting))
	for attempt := 1; attempt <= e.opts.MaxReconnect; attempt++ {
		e.flushQueue()
		select {
		case <-e.stop:
			return false
		case <-time.After(e.opts.Backoff):
		}
		metrics.Default.Reconnects.Inc()
		conn, err := e.dial()
		if err == nil {
			e.setConn(conn)
			logging.Infow("recognizer reconnected", append(logging.StreamFields(e.id, "connected"), "attempt", attempt)...)
			return true
		}
		logging.Warnw("recognizer reconnect failed", "attempt", attempt, "error", err)
	}
	return false
}

func (e *StreamEngine) flushQueue() {
	for {
		select {
		case <-e.queue:
		default:
			return
		}
	}
}
