// Package asr turns raw audio into transcript fragments through a remote
// recognition backend.
package asr

import "time"

// Fragment is one piece of recognized text.
type Fragment struct {
	Text string
	At   time.Time
}

// Engine is a pluggable recognition backend. FeedAudio never blocks: frames
// that cannot be queued are dropped. Results is closed when the engine stops,
// whether by Stop or by exhausting its reconnect budget.
type Engine interface {
	Start() error
	FeedAudio(frame []byte)
	Results() <-chan Fragment
	Stop()
}

// State describes the lifecycle of a streaming session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}
