package audio

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/earshot/internal/logging"
	"github.com/earshot/internal/metrics"
)

// Ingress accepts relay clients over websocket. Each binary message is one
// audio frame: raw PCM16LE, or an opus packet when the codec says so. Frames
// are handed to the sink callback in arrival order per connection.
type Ingress struct {
	codec      string
	sampleRate int
	channels   int
	sink       func(frame []byte)
	upgrader   websocket.Upgrader
}

func NewIngress(codec string, sampleRate, channels int, sink func(frame []byte)) *Ingress {
	return &Ingress{
		codec:      codec,
		sampleRate: sampleRate,
		channels:   channels,
		sink:       sink,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			// Relay clients run on the same trusted network.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the websocket endpoint for relay clients.
func (g *Ingress) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := g.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warnw("ingress upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		go g.serve(conn, r.RemoteAddr)
	})
}

func (g *Ingress) serve(conn *websocket.Conn, remote string) {
	defer conn.Close()

	var dec *OpusDecoder
	if g.codec == "opus" {
		d, err := NewOpusDecoder(g.sampleRate, g.channels)
		if err != nil {
			logging.Errorw("rejecting opus client", "remote", remote, "error", err)
			return
		}
		dec = d
	}

	metrics.Default.IngressClients.Inc()
	defer metrics.Default.IngressClients.Dec()
	logging.Infow("relay client connected", "remote", remote, "codec", g.codec)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			logging.Infow("relay client disconnected", "remote", remote, "error", err)
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		frame := data
		if dec != nil {
			frame, err = dec.Decode(data)
			if err != nil {
				logging.Debugw("opus decode error", "remote", remote, "error", err)
				continue
			}
		}
		metrics.Default.RecordAudioReceived(len(frame))
		g.sink(frame)
	}
}
