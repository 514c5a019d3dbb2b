// Package metrics exposes the bot's Prometheus metrics. *Metrics satisfies
// the observer interfaces of the session, voice and gate packages.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	// Session metrics
	ActiveSessions prometheus.Gauge
	SessionsClosed *prometheus.CounterVec

	// Utterance metrics
	UtterancesAccepted prometheus.Counter
	UtterancesDropped  *prometheus.CounterVec
	UtteranceDuration  prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests prometheus.Counter
	TranscriptionFailures prometheus.Counter
	GateWait              prometheus.Histogram

	// Playback metrics
	TracksStarted prometheus.Counter
	TracksFailed  prometheus.Counter

	Commands *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers every metric with reg. Pass prometheus.NewRegistry() in
// tests to keep registrations isolated.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "jukebox_active_sessions",
			Help: "Current number of open voice sessions",
		}),
		SessionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jukebox_sessions_closed_total",
			Help: "Sessions closed, by reason",
		}, []string{"reason"}),

		UtterancesAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "jukebox_utterances_accepted_total",
			Help: "Utterances transcribed and routed to the command normalizer",
		}),
		UtterancesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jukebox_utterances_dropped_total",
			Help: "Utterances dropped before routing, by reason",
		}, []string{"reason"}),
		UtteranceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "jukebox_utterance_duration_seconds",
			Help:    "Duration of accepted utterances",
			Buckets: prometheus.LinearBuckets(1, 2, 10), // 1s to 19s
		}),

		TranscriptionRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "jukebox_transcription_requests_total",
			Help: "Calls dispatched to the transcription service",
		}),
		TranscriptionFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "jukebox_transcription_failures_total",
			Help: "Failed calls to the transcription service",
		}),
		GateWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "jukebox_gate_wait_seconds",
			Help:    "Time spent waiting for a transcription slot",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}),

		TracksStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "jukebox_tracks_started_total",
			Help: "Tracks that started playing",
		}),
		TracksFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "jukebox_tracks_failed_total",
			Help: "Tracks that failed to resolve, start or finish",
		}),

		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jukebox_commands_total",
			Help: "Commands dispatched, by kind and source",
		}, []string{"kind", "source"}),

		gatherer: reg,
	}
}

func (m *Metrics) SessionOpened() { m.ActiveSessions.Inc() }

func (m *Metrics) SessionClosed(reason string) {
	m.ActiveSessions.Dec()
	m.SessionsClosed.WithLabelValues(reason).Inc()
}

func (m *Metrics) CommandDispatched(kind, source string) {
	m.Commands.WithLabelValues(kind, source).Inc()
}

func (m *Metrics) TrackStarted() { m.TracksStarted.Inc() }
func (m *Metrics) TrackFailed()  { m.TracksFailed.Inc() }

func (m *Metrics) UtteranceAccepted(d time.Duration) {
	m.UtterancesAccepted.Inc()
	m.UtteranceDuration.Observe(d.Seconds())
}

func (m *Metrics) UtteranceDropped(reason string) {
	m.UtterancesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) GateWaited(d time.Duration) {
	m.TranscriptionRequests.Inc()
	m.GateWait.Observe(d.Seconds())
}

func (m *Metrics) TranscriptionDone(err error) {
	if err != nil {
		m.TranscriptionFailures.Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
