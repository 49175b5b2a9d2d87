package events

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes events as structured log lines.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("events")}
}

func (s *LogSink) Publish(ctx context.Context, e Event) error {
	fields := []zap.Field{
		zap.String("event_id", e.ID),
		zap.String("tenant_id", e.TenantID),
		zap.String("call_id", e.CallID),
		zap.String("session_id", e.SessionID),
	}
	switch e.Type {
	case TypeStateChange:
		fields = append(fields, zap.String("from", e.FromState), zap.String("to", e.ToState), zap.String("reason", e.Reason))
		s.log.Debug("session state change", fields...)
	case TypeError:
		fields = append(fields, zap.String("message", e.Message), zap.Int("error_count", e.ErrorCount))
		s.log.Warn("session error", fields...)
	case TypeSessionEnded:
		s.log.Info("session ended", append(fields, zap.String("reason", e.Reason))...)
	case TypeCallStarted:
		s.log.Info("call started", append(fields, zap.String("direction", e.Direction))...)
	case TypeCallEnded:
		fields = append(fields, zap.String("status", e.CallStatus), zap.String("reason", e.Reason))
		if e.DurationSeconds != nil {
			fields = append(fields, zap.Int("duration_seconds", *e.DurationSeconds))
		}
		s.log.Info("call ended", fields...)
	default:
		s.log.Info("event", append(fields, zap.String("type", string(e.Type)))...)
	}
	return nil
}
