package sink

import "context"

// Broadcaster pushes an event to every connected panel client.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
}

// WebSink forwards alerts to the control panel's websocket hub.
type WebSink struct {
	Hub Broadcaster
}

func (s WebSink) Name() string { return "web" }

func (s WebSink) Notify(ctx context.Context, a Alert) error {
	s.Hub.Broadcast("alert", a)
	return nil
}
