package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Sink receives events. Delivery is fire-and-forget: a failing sink must
// never fail the session operation that produced the event.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// Fanout delivers every event to each sink in order. Sink errors are logged
// and swallowed.
type Fanout struct {
	sinks []Sink
	log   *zap.Logger
}

func NewFanout(log *zap.Logger, sinks ...Sink) *Fanout {
	if log == nil {
		log = zap.NewNop()
	}
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Fanout{sinks: out, log: log}
}

func (f *Fanout) Publish(ctx context.Context, e Event) error {
	for _, s := range f.sinks {
		if err := s.Publish(ctx, e); err != nil {
			f.log.Warn("event sink failed",
				zap.String("event_type", string(e.Type)),
				zap.String("call_id", e.CallID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// MemorySink records events for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) Publish(ctx context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// OfType returns recorded events of type t, in publish order.
func (m *MemorySink) OfType(t Type) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
