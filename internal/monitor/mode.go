// Package monitor wires recognition, matching, gating and dispatch into one
// pipeline.
package monitor

import "fmt"

// Mode selects which detection layers run.
type Mode int

const (
	// ModeExact matches keywords as literal substrings.
	ModeExact Mode = iota
	// ModeSemantic layers embedding similarity on top of exact matching.
	ModeSemantic
	// ModeDeepIntent layers periodic LLM intent analysis on top of exact
	// matching.
	ModeDeepIntent
	// ModeAudioDirect skips text recognition and classifies raw audio
	// windows with a multimodal backend.
	ModeAudioDirect
	// ModeDual runs the semantic and deep-intent layers side by side, with
	// events tagged by strategy. Meant for comparing the two on live audio.
	ModeDual
)

func (m Mode) String() string {
	switch m {
	case ModeExact:
		return "exact"
	case ModeSemantic:
		return "semantic"
	case ModeDeepIntent:
		return "intent"
	case ModeAudioDirect:
		return "audio"
	case ModeDual:
		return "dual"
	default:
		return "unknown"
	}
}

// ParseMode maps a config string to its Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "exact":
		return ModeExact, nil
	case "semantic":
		return ModeSemantic, nil
	case "intent":
		return ModeDeepIntent, nil
	case "audio":
		return ModeAudioDirect, nil
	case "dual":
		return ModeDual, nil
	default:
		return ModeExact, fmt.Errorf("unknown mode %q", s)
	}
}

// usesText reports whether the mode consumes transcript fragments.
func (m Mode) usesText() bool { return m != ModeAudioDirect }

// usesSemantic reports whether the embedding layer runs.
func (m Mode) usesSemantic() bool { return m == ModeSemantic || m == ModeDual }

// usesIntent reports whether the LLM intent layer runs.
func (m Mode) usesIntent() bool { return m == ModeDeepIntent || m == ModeDual }

// usesAudio reports whether the audio-direct layer runs.
func (m Mode) usesAudio() bool { return m == ModeAudioDirect }
