// Package metrics exposes Prometheus collectors for the audio pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors updated by the transport and the controller.
type Metrics struct {
	ChunksSent        prometheus.Counter
	ChunksDropped     prometheus.Counter
	BytesSent         prometheus.Counter
	SentinelsSent     prometheus.Counter
	MessagesReceived  prometheus.Counter
	StatusTransitions *prometheus.CounterVec
	Recording         prometheus.Gauge
	PermissionErrors  prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg skips registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChunksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voicelink",
			Name:      "audio_chunks_sent_total",
			Help:      "Audio chunks written to the socket.",
		}),
		ChunksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voicelink",
			Name:      "audio_chunks_dropped_total",
			Help:      "Audio chunks discarded because no connection was open.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voicelink",
			Name:      "audio_bytes_sent_total",
			Help:      "Encoded audio bytes written to the socket.",
		}),
		SentinelsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voicelink",
			Name:      "sentinels_sent_total",
			Help:      "End-of-utterance sentinels written to the socket.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voicelink",
			Name:      "messages_received_total",
			Help:      "Inbound frames delivered to the message list.",
		}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicelink",
			Name:      "connection_status_transitions_total",
			Help:      "Connection status transitions by target status.",
		}, []string{"status"}),
		Recording: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicelink",
			Name:      "recording",
			Help:      "1 while a recording session is active.",
		}),
		PermissionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voicelink",
			Name:      "microphone_permission_errors_total",
			Help:      "Recording starts rejected because the microphone was unavailable.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ChunksSent,
			m.ChunksDropped,
			m.BytesSent,
			m.SentinelsSent,
			m.MessagesReceived,
			m.StatusTransitions,
			m.Recording,
			m.PermissionErrors,
		)
	}
	return m
}
