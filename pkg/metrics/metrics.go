// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hotline_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	// SessionsActive tracks live sessions held by this process.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hotline_sessions_active",
			Help: "Number of live call sessions",
		},
	)

	// SessionTransitions counts session state changes.
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotline_session_transitions_total",
			Help: "Session state transitions",
		},
		[]string{"from", "to"},
	)

	// SessionErrors counts errors recorded against sessions.
	SessionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hotline_session_errors_total",
			Help: "Errors recorded against call sessions",
		},
	)

	// CallsStarted counts calls moved to in_progress.
	CallsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotline_calls_started_total",
			Help: "Calls started",
		},
		[]string{"direction"},
	)

	// CallsEnded counts ended calls by final status.
	CallsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotline_calls_ended_total",
			Help: "Calls ended by final status",
		},
		[]string{"status"},
	)

	// CallDuration tracks duration of ended calls.
	CallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hotline_call_duration_seconds",
			Help:    "Duration of ended calls",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		},
	)

	// SweepActions counts actions taken by the idle/expiry sweeper.
	SweepActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotline_sweep_actions_total",
			Help: "Actions taken by the session sweeper",
		},
		[]string{"action"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
}

// RecordTransition records a session state change.
func RecordTransition(from, to string) {
	SessionTransitions.WithLabelValues(from, to).Inc()
}

// RecordCallEnded records a call reaching a terminal status.
func RecordCallEnded(status string, durationSeconds *int) {
	CallsEnded.WithLabelValues(status).Inc()
	if durationSeconds != nil {
		CallDuration.Observe(float64(*durationSeconds))
	}
}
