// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "earshot"

// Metrics holds all Prometheus metrics for the monitor.
type Metrics struct {
	// Ingress metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter
	AudioFramesDropped  prometheus.Counter
	IngressClients      prometheus.Gauge

	// Recognition metrics
	Fragments       prometheus.Counter
	Reconnects      prometheus.Counter
	SessionsFailed  prometheus.Counter
	RecognizeErrors *prometheus.CounterVec

	// Detection metrics
	Matches          *prometheus.CounterVec
	AlertsAccepted   prometheus.Counter
	AlertsSuppressed prometheus.Counter
	EmbedCacheHits   prometheus.Counter
	EmbedCacheMisses prometheus.Counter
	EmbedEvictions   prometheus.Counter

	// Remote call metrics
	RemoteErrors  *prometheus.CounterVec
	RemoteLatency *prometheus.HistogramVec
}

// Default is the global metrics instance.
var Default = New()

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received from the ingress",
		}),
		AudioFramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames received from the ingress",
		}),
		AudioFramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Total audio frames dropped because a queue was full",
		}),
		IngressClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingress_clients",
			Help:      "Number of currently connected audio relay clients",
		}),
		Fragments: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_fragments_total",
			Help:      "Total transcript fragments delivered by the recognizer",
		}),
		Reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognizer_reconnects_total",
			Help:      "Total recognition session reconnect attempts",
		}),
		SessionsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognizer_sessions_failed_total",
			Help:      "Total recognition sessions abandoned after the reconnect budget",
		}),
		RecognizeErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognizer_errors_total",
			Help:      "Total recognizer errors",
		}, []string{"kind"}),
		Matches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Total keyword matches by strategy",
		}, []string{"strategy"}),
		AlertsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_accepted_total",
			Help:      "Total alerts accepted by the cooldown gate",
		}),
		AlertsSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Total matches suppressed inside the cooldown window",
		}),
		EmbedCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_hits_total",
			Help:      "Total phrase embedding cache hits",
		}),
		EmbedCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_misses_total",
			Help:      "Total phrase embedding cache misses",
		}),
		EmbedEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_evictions_total",
			Help:      "Total phrase embedding cache evictions (FIFO)",
		}),
		RemoteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_errors_total",
			Help:      "Total remote backend call failures",
		}, []string{"backend"}),
		RemoteLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_latency_seconds",
			Help:      "Remote backend call latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"backend"}),
	}
}

// RecordMatch records a keyword match by strategy.
func (m *Metrics) RecordMatch(strategy string) {
	m.Matches.WithLabelValues(strategy).Inc()
}

// RecordAudioReceived records audio bytes and frames received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordRemoteCall records a remote call outcome with its latency.
func (m *Metrics) RecordRemoteCall(backend string, err error, seconds float64) {
	m.RemoteLatency.WithLabelValues(backend).Observe(seconds)
	if err != nil {
		m.RemoteErrors.WithLabelValues(backend).Inc()
	}
}
