package asr

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/earshot/internal/metrics"
)

var upgrader = websocket.Upgrader{}

func wsServer(t *testing.T, handler func(conn *websocket.Conn, nth int)) (*httptest.Server, string) {
	t.Helper()
	var conns int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn, int(atomic.AddInt32(&conns, 1)))
	}))
	return ts, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func waitFragment(t *testing.T, e *StreamEngine) Fragment {
	t.Helper()
	select {
	case f, ok := <-e.Results():
		if !ok {
			t.Fatal("results closed before a fragment arrived")
		}
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a fragment")
	}
	return Fragment{}
}

func TestStreamEngineDeliversFragments(t *testing.T) {
	ts, url := wsServer(t, func(conn *websocket.Conn, nth int) {
		defer conn.Close()
		for {
			mt, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				conn.WriteMessage(websocket.TextMessage, []byte(`{"text": "please check in", "is_final": true}`))
			}
		}
	})
	defer ts.Close()

	e := NewStreamEngine(StreamOptions{URL: url})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	e.FeedAudio(make([]byte, 320))
	f := waitFragment(t, e)
	if f.Text != "please check in" {
		t.Fatalf("fragment = %q", f.Text)
	}
	if e.State() != StateConnected {
		t.Fatalf("state = %v, want connected", e.State())
	}
}

func TestStreamEngineSkipsEmptyAndMalformed(t *testing.T) {
	ts, url := wsServer(t, func(conn *websocket.Conn, nth int) {
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"text": "   "}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"text": "real"}`))
		// Hold the session open until the client leaves.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer ts.Close()

	e := NewStreamEngine(StreamOptions{URL: url})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	if f := waitFragment(t, e); f.Text != "real" {
		t.Fatalf("fragment = %q, want blanks and junk skipped", f.Text)
	}
}

func TestStreamEngineReconnects(t *testing.T) {
	ts, url := wsServer(t, func(conn *websocket.Conn, nth int) {
		defer conn.Close()
		if nth == 1 {
			return // die immediately, forcing a reconnect
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"text": "back"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer ts.Close()

	e := NewStreamEngine(StreamOptions{URL: url, Backoff: 10 * time.Millisecond})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	if f := waitFragment(t, e); f.Text != "back" {
		t.Fatalf("fragment = %q", f.Text)
	}
}

func TestStreamEngineAcceptsAudioAcrossReconnect(t *testing.T) {
	ts, url := wsServer(t, func(conn *websocket.Conn, nth int) {
		defer conn.Close()
		if nth == 1 {
			return // die idle, before the client sends anything
		}
		for {
			mt, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				conn.WriteMessage(websocket.TextMessage, []byte(`{"text": "made it"}`))
			}
		}
	})
	defer ts.Close()

	e := NewStreamEngine(StreamOptions{URL: url, Backoff: 20 * time.Millisecond})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	// Keep feeding through the outage; frames queued after the re-dial must
	// reach the recognizer instead of being silently discarded.
	feeding := make(chan struct{})
	defer close(feeding)
	go func() {
		for {
			select {
			case <-feeding:
				return
			case <-time.After(5 * time.Millisecond):
				e.FeedAudio(make([]byte, 320))
			}
		}
	}()

	if f := waitFragment(t, e); f.Text != "made it" {
		t.Fatalf("fragment = %q", f.Text)
	}
}

func TestStreamEngineQueueBoundDropsNewest(t *testing.T) {
	e := NewStreamEngine(StreamOptions{URL: "ws://unused", QueueSize: 8})
	// No session consumes the queue, so it fills and overflows.
	e.started.Store(true)
	e.state.Store(int32(StateConnected))

	before := testutil.ToFloat64(metrics.Default.AudioFramesDropped)
	for i := 0; i < 20; i++ {
		e.FeedAudio([]byte{byte(i)})
	}
	if got := len(e.queue); got != 8 {
		t.Fatalf("queued frames = %d, want the configured bound of 8", got)
	}
	if dropped := testutil.ToFloat64(metrics.Default.AudioFramesDropped) - before; dropped != 12 {
		t.Fatalf("dropped frames = %v, want 12", dropped)
	}
	// The overflow was discarded from the tail: the oldest frames survive.
	for i := 0; i < 8; i++ {
		frame := <-e.queue
		if frame[0] != byte(i) {
			t.Fatalf("frame %d starts with %d, want oldest-first ordering", i, frame[0])
		}
	}
}

func TestStreamEngineGivesUpAfterBudget(t *testing.T) {
	ts, url := wsServer(t, func(conn *websocket.Conn, nth int) {
		conn.Close()
	})

	e := NewStreamEngine(StreamOptions{URL: url, MaxReconnect: 2, Backoff: 5 * time.Millisecond})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ts.Close() // all reconnect attempts now fail

	select {
	case _, ok := <-e.Results():
		if ok {
			t.Fatal("unexpected fragment")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("results never closed after budget exhausted")
	}
	if e.State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", e.State())
	}
	// Feeding a dead engine is a silent no-op.
	e.FeedAudio(make([]byte, 320))
}

func TestStreamEngineStartFailure(t *testing.T) {
	e := NewStreamEngine(StreamOptions{URL: "ws://127.0.0.1:1/asr"})
	if err := e.Start(); err == nil {
		t.Fatal("expected dial error")
	}
	if e.State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", e.State())
	}
	e.Stop() // must not hang without a running loop
}

func TestStateString(t *testing.T) {
	if StateReconnecting.String() != "reconnecting" || State(99).String() != "unknown" {
		t.Fatal("unexpected state names")
	}
}
