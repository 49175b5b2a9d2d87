package telephony

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnknownNumber = errors.New("telephony: dialed number has no tenant")
	ErrNotConfigured = errors.New("telephony: provider not configured")
	ErrCallInFlight  = errors.New("telephony: call is being set up by another request")
)

// TelephonyProvider defines the provider-agnostic interface used at the carrier edge.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - All requests are tenant-scoped; the tenant is resolved from the dialed number.
type TelephonyProvider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	HandleInboundCall(ctx context.Context, req InboundCallRequest) (InboundCallResult, error)
	HandleStatus(ctx context.Context, upd StatusUpdate) error
	HandleRecording(ctx context.Context, rec RecordingUpdate) error

	Hangup(ctx context.Context, providerCallID string) error
}

// InboundCallRequest represents an inbound call event received from a provider.
type InboundCallRequest struct {
	TenantID string `json:"tenant_id"`

	// ProviderCallID is the provider's unique identifier for this call.
	ProviderCallID string `json:"provider_call_id"`

	// From and To are E.164 where possible.
	From       string `json:"from"`
	To         string `json:"to"`
	CallerName string `json:"caller_name,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`

	// RawPayload is optional for debugging; stored as JSON string.
	RawPayload string `json:"raw_payload,omitempty"`
}

// InboundCallResult is the provider adapter response used to drive next steps.
type InboundCallResult struct {
	TenantID  string `json:"tenant_id"`
	CallID    string `json:"call_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	Action InboundCallAction `json:"action"`

	// StreamURL is used when Action == "stream".
	StreamURL string `json:"stream_url,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type InboundCallAction string

const (
	InboundCallActionReject InboundCallAction = "reject"
	InboundCallActionStream InboundCallAction = "stream"
	InboundCallActionHangup InboundCallAction = "hangup"
)

// StatusUpdate is a carrier call-progress callback.
type StatusUpdate struct {
	ProviderCallID string
	To             string
	Status         string
	Duration       int
}

// RecordingUpdate reports a finished carrier-side recording.
type RecordingUpdate struct {
	ProviderCallID string
	To             string
	RecordingURL   string
}
