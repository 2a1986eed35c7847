package sink

import (
	"context"
	"strings"

	"github.com/earshot/internal/logging"
)

// LogSink writes alerts to the structured log. Always configured; it is the
// destination of last resort when everything else fails.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Notify(ctx context.Context, a Alert) error {
	logging.Infow("ALERT",
		"alert_id", a.ID,
		"keywords", strings.Join(a.Keywords, ","),
		"strategy", a.Strategy,
		"text", a.Text,
	)
	return nil
}
