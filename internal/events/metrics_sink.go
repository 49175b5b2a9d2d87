package events

import (
	"context"

	"ai-hotline/pkg/metrics"
)

// MetricsSink turns events into Prometheus counters.
type MetricsSink struct{}

func (MetricsSink) Publish(ctx context.Context, e Event) error {
	switch e.Type {
	case TypeStateChange:
		metrics.RecordTransition(e.FromState, e.ToState)
	case TypeError:
		metrics.SessionErrors.Inc()
	case TypeCallStarted:
		metrics.CallsStarted.WithLabelValues(e.Direction).Inc()
	case TypeCallEnded:
		metrics.RecordCallEnded(e.CallStatus, e.DurationSeconds)
	}
	return nil
}
