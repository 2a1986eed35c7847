// Package sink delivers accepted alerts to their destinations.
package sink

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/earshot/internal/logging"
)

// Alert is one accepted detection, dispatched to every configured sink.
type Alert struct {
	ID       string    `json:"id"`
	Keywords []string  `json:"keywords"`
	Text     string    `json:"text"`
	Strategy string    `json:"strategy"`
	At       time.Time `json:"at"`
}

// NewAlert stamps a fresh alert with an id and timestamp.
func NewAlert(keywords []string, text, strategy string) Alert {
	return Alert{
		ID:       uuid.NewString(),
		Keywords: append([]string(nil), keywords...),
		Text:     text,
		Strategy: strategy,
		At:       time.Now(),
	}
}

// Sink is one alert destination. Notify must be safe for concurrent use; a
// failing sink never blocks the others.
type Sink interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}

// Fanout delivers the alert to every sink concurrently and waits for all of
// them. Failures are logged per sink and do not affect the rest.
func Fanout(ctx context.Context, a Alert, sinks []Sink) {
	var wg sync.WaitGroup
	for _, s := range sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			if err := s.Notify(ctx, a); err != nil {
				logging.Errorw("alert delivery failed", "sink", s.Name(), "alert_id", a.ID, "error", err)
			}
		}(s)
	}
	wg.Wait()
}
