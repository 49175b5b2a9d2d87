package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics.
// Tenant isolation: TenantID is required.
type CallsSummaryRequest struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`
}

type CallsSummary struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`

	TotalCalls     int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	FailedCalls    int `json:"failed_calls"`
	CancelledCalls int `json:"cancelled_calls"`
	ActiveCalls    int `json:"active_calls"`
	InboundCalls   int `json:"inbound_calls"`
	OutboundCalls  int `json:"outbound_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	RecordedCalls int `json:"recorded_calls"`

	// Satisfaction is averaged over rated calls only.
	RatedCalls          int      `json:"rated_calls"`
	AverageSatisfaction *float64 `json:"average_satisfaction,omitempty"`

	ResolvedCalls  int     `json:"resolved_calls"`
	ResolutionRate float64 `json:"resolution_rate"`

	LLMInteractions     int `json:"llm_interactions"`
	AverageLLMLatencyMs int `json:"average_llm_latency_ms"`
}

// SessionsSummary describes the live sessions of one tenant right now.
type SessionsSummary struct {
	TenantID string `json:"tenant_id"`

	Live            int            `json:"live"`
	ByState         map[string]int `json:"by_state"`
	InError         int            `json:"in_error"`
	Recording       int            `json:"recording"`
	Playing         int            `json:"playing"`
	PendingRequests int            `json:"pending_requests"`
	TotalErrors     int            `json:"total_errors"`
}
