package detect

import (
	"sync"
	"time"
)

// Gate applies the alert cooldown. TryAccept is a once-only, side-effecting
// check: the compare and the timestamp update happen in one critical section
// so two concurrent matches inside the window yield at most one acceptance.
type Gate struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     time.Time
	now      func() time.Time
}

func NewGate(cooldown time.Duration) *Gate {
	return &Gate{cooldown: cooldown, now: time.Now}
}

// TryAccept returns true and consumes the cooldown window if enough time has
// passed since the previous accepted alert. A zero cooldown disables gating.
func (g *Gate) TryAccept() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if g.cooldown > 0 && !g.last.IsZero() && now.Sub(g.last) < g.cooldown {
		return false
	}
	g.last = now
	return true
}

// Remaining reports how much of the cooldown window is left, for status
// reporting. Zero means the gate is open.
func (g *Gate) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cooldown == 0 || g.last.IsZero() {
		return 0
	}
	rem := g.cooldown - g.now().Sub(g.last)
	if rem < 0 {
		return 0
	}
	return rem
}
