package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("session: not found")
	ErrExists          = errors.New("session: already registered")
	ErrVersionConflict = errors.New("session: version conflict")
	ErrUnknownKind     = errors.New("session: unknown request kind")
	ErrUnknownState    = errors.New("session: unknown state")
	ErrUnknownTurn     = errors.New("session: unknown turn")
)

// State is the live conversational state of a call.
type State string

const (
	StateInitializing       State = "initializing"
	StateWaitingForCaller   State = "waiting_for_caller"
	StateListening          State = "listening"
	StateProcessing         State = "processing"
	StateSpeaking           State = "speaking"
	StateWaitingForResponse State = "waiting_for_response"
	StateEnding             State = "ending"
	StateEnded              State = "ended"
	StateError              State = "error"
)

var allStates = []State{
	StateInitializing, StateWaitingForCaller, StateListening, StateProcessing,
	StateSpeaking, StateWaitingForResponse, StateEnding, StateEnded, StateError,
}

func ParseState(s string) (State, error) {
	v := State(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range allStates {
		if st == v {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownState, s)
}

// Turn says who is expected to produce the next utterance.
type Turn string

const (
	TurnCaller Turn = "caller"
	TurnAI     Turn = "ai"
	TurnSystem Turn = "system"
)

func ParseTurn(s string) (Turn, error) {
	switch t := Turn(strings.ToLower(strings.TrimSpace(s))); t {
	case TurnCaller, TurnAI, TurnSystem:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTurn, s)
}

// RequestKind selects one of the pending-request collections.
type RequestKind string

const (
	KindSTT RequestKind = "stt"
	KindLLM RequestKind = "llm"
	KindTTS RequestKind = "tts"
)

// ParseRequestKind validates a kind at the API boundary. The session itself
// ignores unknown kinds.
func ParseRequestKind(s string) (RequestKind, error) {
	switch k := RequestKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindSTT, KindLLM, KindTTS:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

type EntryType string

const (
	EntryStateChange   EntryType = "state_change"
	EntryUserInput     EntryType = "user_input"
	EntryAIResponse    EntryType = "ai_response"
	EntrySystemMessage EntryType = "system_message"
	EntryError         EntryType = "error"
)

// Entry is one element of the append-only conversation history.
// Only the fields relevant to Type are set.
type Entry struct {
	Type      EntryType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// state_change
	FromState State  `json:"from_state,omitempty"`
	ToState   State  `json:"to_state,omitempty"`
	Reason    string `json:"reason,omitempty"`

	// user_input, ai_response
	Text       string   `json:"text,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Provider   string   `json:"provider,omitempty"`
	Model      string   `json:"model,omitempty"`
	LatencyMs  *int     `json:"processing_time_ms,omitempty"`

	// system_message, error
	Message    string `json:"message,omitempty"`
	Level      string `json:"level,omitempty"`
	ErrorCount int    `json:"error_count,omitempty"`
}

// PendingCounts is the number of outstanding requests per kind.
type PendingCounts struct {
	STT int `json:"stt"`
	LLM int `json:"llm"`
	TTS int `json:"tts"`
}

// Summary is a compact view of a session for listings and reports.
type Summary struct {
	SessionID         string        `json:"session_id"`
	CallID            string        `json:"call_id"`
	TenantID          string        `json:"tenant_id"`
	State             State         `json:"state"`
	Turn              Turn          `json:"current_turn"`
	DurationSeconds   int           `json:"duration_seconds"`
	ConversationTurns int           `json:"conversation_turns"`
	ErrorCount        int           `json:"error_count"`
	LastError         string        `json:"last_error,omitempty"`
	IsRecording       bool          `json:"is_recording"`
	IsPlaying         bool          `json:"is_playing"`
	Pending           PendingCounts `json:"pending_requests"`
	Idle              bool          `json:"idle"`
	Expired           bool          `json:"expired"`
}
