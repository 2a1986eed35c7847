package sink

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// SoundSink shells out to a local player so the operator hears the alert.
// The player gets its own deadline; a hung player must not delay dispatch
// forever.
type SoundSink struct {
	Command string // e.g. "aplay", "afplay", "paplay"
	File    string
}

func (s SoundSink) Name() string { return "sound" }

func (s SoundSink) Notify(ctx context.Context, a Alert) error {
	if s.Command == "" || s.File == "" {
		return fmt.Errorf("sound sink not configured")
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(cctx, s.Command, s.File)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("play %s: %w", s.File, err)
	}
	return nil
}
