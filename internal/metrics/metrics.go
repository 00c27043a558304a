// ABOUTME: Prometheus metrics for session lifecycle, routing, generation and lead capture
// ABOUTME: A nil *Recorder is valid and records nothing

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder records waflow metrics into a registry.
type Recorder struct {
	registry *prometheus.Registry

	sessionTransitions  *prometheus.CounterVec
	liveSessions        prometheus.Gauge
	messagesRouted      *prometheus.CounterVec
	messagesIgnored     *prometheus.CounterVec
	generationDuration  prometheus.Histogram
	generationFallbacks *prometheus.CounterVec
	leadsCreated        *prometheus.CounterVec
}

// New creates a Recorder with its own registry, including Go runtime and
// process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		sessionTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waflow_session_transitions_total",
				Help: "Session lifecycle transitions by target state and transport",
			},
			[]string{"state", "transport"},
		),
		liveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "waflow_live_sessions",
			Help: "Sessions currently holding a live connection handle",
		}),
		messagesRouted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waflow_messages_routed_total",
				Help: "Inbound messages that produced a reply attempt",
			},
			[]string{"transport"},
		),
		messagesIgnored: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waflow_messages_ignored_total",
				Help: "Inbound messages dropped before generation, by reason",
			},
			[]string{"reason"},
		),
		generationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "waflow_generation_duration_seconds",
			Help:    "Duration of reply generation including retrieval",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 30},
		}),
		generationFallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waflow_generation_fallbacks_total",
				Help: "Replies replaced by the fallback acknowledgment, by cause",
			},
			[]string{"cause"},
		),
		leadsCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waflow_leads_created_total",
				Help: "Lead records created from inbound conversations",
			},
			[]string{"source"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// SessionTransition counts a lifecycle transition into state.
func (r *Recorder) SessionTransition(state, transport string) {
	if r == nil {
		return
	}
	r.sessionTransitions.WithLabelValues(state, transport).Inc()
}

// SetLiveSessions reports the number of live handles.
func (r *Recorder) SetLiveSessions(n int) {
	if r == nil {
		return
	}
	r.liveSessions.Set(float64(n))
}

// MessageRouted counts a message that reached generation.
func (r *Recorder) MessageRouted(transport string) {
	if r == nil {
		return
	}
	r.messagesRouted.WithLabelValues(transport).Inc()
}

// MessageIgnored counts a dropped message.
func (r *Recorder) MessageIgnored(reason string) {
	if r == nil {
		return
	}
	r.messagesIgnored.WithLabelValues(reason).Inc()
}

// ObserveGeneration records how long a reply took. A non-empty
// fallbackCause also counts a fallback.
func (r *Recorder) ObserveGeneration(d time.Duration, fallbackCause string) {
	if r == nil {
		return
	}
	r.generationDuration.Observe(d.Seconds())
	if fallbackCause != "" {
		r.generationFallbacks.WithLabelValues(fallbackCause).Inc()
	}
}

// LeadCreated counts a new lead.
func (r *Recorder) LeadCreated(source string) {
	if r == nil {
		return
	}
	r.leadsCreated.WithLabelValues(source).Inc()
}
