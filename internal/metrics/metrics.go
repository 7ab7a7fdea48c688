// Package metrics exposes Prometheus collectors for the playback core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsStopped prometheus.Counter
	Transitions     *prometheus.CounterVec

	// Fetch pipeline metrics
	FetchesStarted      prometheus.Counter
	FetchesDeduped      prometheus.Counter
	FetchFailures       prometheus.Counter
	FetchCancels        prometheus.Counter
	CredentialEvictions prometheus.Counter

	// Assistant pool metrics
	AssistantLatency prometheus.Gauge
}

// New registers all collectors on reg. Pass prometheus.NewRegistry()
// in tests to avoid default-registry collisions.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "anonplay_active_sessions",
			Help: "Current number of chats with an active call",
		}),
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "anonplay_sessions_started_total",
			Help: "Total number of playback sessions started",
		}),
		SessionsStopped: f.NewCounter(prometheus.CounterOpts{
			Name: "anonplay_sessions_stopped_total",
			Help: "Total number of playback sessions terminated",
		}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "anonplay_state_transitions_total",
			Help: "Playback state transitions by target state",
		}, []string{"to"}),
		FetchesStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "anonplay_fetches_started_total",
			Help: "Total number of underlying media transfers started",
		}),
		FetchesDeduped: f.NewCounter(prometheus.CounterOpts{
			Name: "anonplay_fetches_deduped_total",
			Help: "Total number of fetch requests attached to an in-flight transfer",
		}),
		FetchFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "anonplay_fetch_failures_total",
			Help: "Total number of failed media transfers",
		}),
		FetchCancels: f.NewCounter(prometheus.CounterOpts{
			Name: "anonplay_fetch_cancels_total",
			Help: "Total number of cancelled media transfers",
		}),
		CredentialEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "anonplay_credential_evictions_total",
			Help: "Total number of fetch credentials evicted after a failure",
		}),
		AssistantLatency: f.NewGauge(prometheus.GaugeOpts{
			Name: "anonplay_assistant_latency_seconds",
			Help: "Aggregate latency across assistant connections",
		}),
	}
}
