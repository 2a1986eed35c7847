package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestBlockEngineRecognize(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "audio/wav" {
			t.Errorf("content type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if !bytes.HasPrefix(body, []byte("RIFF")) {
			t.Error("body is not a WAV")
		}
		json.NewEncoder(w).Encode(map[string]string{"text": " hello there "})
	}))
	defer ts.Close()

	e := NewBlockEngine(BlockOptions{URL: ts.URL, SampleRate: 16000, Channels: 1})
	text, err := e.recognize(context.Background(), make([]byte, e.chunkLen))
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if text != "hello there" {
		t.Fatalf("text = %q", text)
	}
}

func TestBlockEngineRetriesTransient(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "third time"})
	}))
	defer ts.Close()

	e := NewBlockEngine(BlockOptions{URL: ts.URL})
	text, err := e.recognize(context.Background(), make([]byte, 64))
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if text != "third time" || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("text = %q after %d calls", text, calls)
	}
}

func TestBlockEnginePermanentErrorNoRetry(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer ts.Close()

	e := NewBlockEngine(BlockOptions{URL: ts.URL})
	if _, err := e.recognize(context.Background(), make([]byte, 64)); err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1 (4xx is not retried)", calls)
	}
}

func TestBlockEngineChunksAudio(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"text": "chunk"})
	}))
	defer ts.Close()

	e := NewBlockEngine(BlockOptions{URL: ts.URL, SampleRate: 16000, Channels: 1, ChunkMs: 600})
	if want := 16000 * 2 * 600 / 1000; e.chunkLen != want {
		t.Fatalf("chunkLen = %d, want %d", e.chunkLen, want)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.FeedAudio(make([]byte, e.chunkLen))
	select {
	case f := <-e.Results():
		if f.Text != "chunk" {
			t.Fatalf("fragment = %q", f.Text)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no fragment for a full chunk")
	}
	e.Stop()
}

func TestBlockEngineBufferCap(t *testing.T) {
	e := NewBlockEngine(BlockOptions{URL: "http://unused", ChunkMs: 600})
	for i := 0; i < 30; i++ {
		e.FeedAudio(make([]byte, e.chunkLen))
	}
	e.mu.Lock()
	n := len(e.buf)
	e.mu.Unlock()
	if n > 10*e.chunkLen {
		t.Fatalf("buffer grew to %d, cap is %d", n, 10*e.chunkLen)
	}
}

func TestBlockEngineStartWithoutURL(t *testing.T) {
	e := NewBlockEngine(BlockOptions{})
	if err := e.Start(); err == nil {
		t.Fatal("expected error for missing url")
	}
	e.Stop()
}
