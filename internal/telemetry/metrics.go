// Package telemetry provides the Prometheus metrics of the reply pipeline.
//
// Metrics are registered by Init. Before Init every helper is a no-op, so
// packages can record unconditionally and tests need not set anything up.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	// Counters
	Observations *prometheus.CounterVec
	Events       *prometheus.CounterVec
	Intents      *prometheus.CounterVec
	Deduped      prometheus.Counter
	Jobs         *prometheus.CounterVec
	Restarts     *prometheus.CounterVec

	// Gauges
	QueueDepth *prometheus.GaugeVec
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		Observations = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livereply_observations_total", Help: "Raw observations received from sources"}, []string{"session"})
		Events = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livereply_events_total", Help: "Observations that normalized to a chat event"}, []string{"session", "kind"})
		Intents = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livereply_intents_total", Help: "Events that matched a reply rule"}, []string{"session", "rule"})
		Deduped = promauto.NewCounter(prometheus.CounterOpts{Name: "livereply_deduped_total", Help: "Intents suppressed as duplicates"})
		Jobs = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livereply_jobs_total", Help: "Reply jobs by terminal state"}, []string{"session", "state"})
		Restarts = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livereply_source_restarts_total", Help: "Source restarts after an error"}, []string{"session", "source"})
		QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "livereply_queue_depth", Help: "Reply jobs not yet in a terminal state"}, []string{"session"})
	})
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

func ObservationSeen(session string) {
	if Observations != nil {
		Observations.WithLabelValues(session).Inc()
	}
}

func EventNormalized(session, kind string) {
	if Events != nil {
		Events.WithLabelValues(session, kind).Inc()
	}
}

func IntentMatched(session, rule string) {
	if Intents != nil {
		Intents.WithLabelValues(session, rule).Inc()
	}
}

func IntentDeduped() {
	if Deduped != nil {
		Deduped.Inc()
	}
}

func JobFinished(session, state string) {
	if Jobs != nil {
		Jobs.WithLabelValues(session, state).Inc()
	}
}

func SourceRestarted(session, source string) {
	if Restarts != nil {
		Restarts.WithLabelValues(session, source).Inc()
	}
}

// SetQueueDepth records the number of pending jobs for session.
func SetQueueDepth(session string, n int) {
	if QueueDepth != nil {
		QueueDepth.WithLabelValues(session).Set(float64(n))
	}
}
