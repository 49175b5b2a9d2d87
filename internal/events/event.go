// Package events carries domain events from live call sessions to
// observers (logs, metrics, audit, the NATS event stream).
package events

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeStateChange  Type = "state_change"
	TypeError        Type = "error"
	TypeSessionEnded Type = "session_ended"
	TypeCallStarted  Type = "call_started"
	TypeCallEnded    Type = "call_ended"
)

// Event is an immutable notification. Fields not relevant to Type are empty.
type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	TenantID  string `json:"tenant_id"`
	CallID    string `json:"call_id"`
	SessionID string `json:"session_id,omitempty"`

	FromState string `json:"from_state,omitempty"`
	ToState   string `json:"to_state,omitempty"`
	Reason    string `json:"reason,omitempty"`

	Message    string `json:"message,omitempty"`
	ErrorCount int    `json:"error_count,omitempty"`

	Direction       string `json:"direction,omitempty"`
	CallStatus      string `json:"call_status,omitempty"`
	DurationSeconds *int   `json:"duration_seconds,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// New stamps an event with a fresh ID.
func New(t Type, tenantID, callID, sessionID string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		TenantID:   tenantID,
		CallID:     callID,
		SessionID:  sessionID,
		OccurredAt: at.UTC(),
	}
}
