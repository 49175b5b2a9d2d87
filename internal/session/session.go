// Package session implements the live conversational state machine of a
// call: turn-taking, pending STT/LLM/TTS bookkeeping, the ordered
// conversation history, error escalation and idle/expiry detection.
//
// A Session is not safe for concurrent use. Live sessions are owned by a
// Manager, which serializes every mutation per session ID.
package session

import (
	"time"

	"github.com/google/uuid"

	"ai-hotline/internal/events"
)

const (
	DefaultMaxSilence  = 10 * time.Second
	DefaultMaxDuration = 1800 * time.Second

	// ErrorThreshold is the error count at which a session is forced to ERROR.
	ErrorThreshold = 3

	DefaultLanguageCode = "ar-EG"
)

// Session is the live state of one call. Exported fields are the persisted
// snapshot; read them only from a Snapshot or inside Manager.Do.
type Session struct {
	ID       string `json:"session_id"`
	CallID   string `json:"call_id"`
	TenantID string `json:"tenant_id"`

	State State `json:"state"`
	Turn  Turn  `json:"current_turn"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	StateChangedAt time.Time `json:"state_changed_at"`

	MaxSilence  time.Duration `json:"max_silence_duration"`
	MaxDuration time.Duration `json:"max_session_duration"`

	AudioStreamID string `json:"current_audio_stream_id,omitempty"`
	IsRecording   bool   `json:"is_recording"`
	IsPlaying     bool   `json:"is_playing"`

	History        []Entry `json:"conversation_history"`
	CurrentPrompt  string  `json:"current_prompt,omitempty"`
	LastUserInput  string  `json:"last_user_input,omitempty"`
	LastAIResponse string  `json:"last_ai_response,omitempty"`

	PendingSTT []string `json:"pending_stt_requests"`
	PendingLLM []string `json:"pending_llm_requests"`
	PendingTTS []string `json:"pending_tts_requests"`

	LanguageCode string `json:"language_code"`

	ErrorCount int    `json:"error_count"`
	LastError  string `json:"last_error,omitempty"`
	RetryCount int    `json:"retry_count"`

	Metadata map[string]any `json:"metadata"`

	// Version increases on every persisted mutation.
	Version int64 `json:"version"`

	now    func() time.Time
	outbox []events.Event
}

type options struct {
	id          string
	maxSilence  time.Duration
	maxDuration time.Duration
	clock       func() time.Time
	language    string
}

type Option func(*options)

func WithID(id string) Option { return func(o *options) { o.id = id } }

func WithMaxSilence(d time.Duration) Option { return func(o *options) { o.maxSilence = d } }

func WithMaxDuration(d time.Duration) Option { return func(o *options) { o.maxDuration = d } }

func WithClock(now func() time.Time) Option { return func(o *options) { o.clock = now } }

func WithLanguageCode(code string) Option { return func(o *options) { o.language = code } }

// New returns a session in INITIALIZING with the AI holding the first turn.
func New(callID, tenantID string, opts ...Option) *Session {
	o := options{
		maxSilence:  DefaultMaxSilence,
		maxDuration: DefaultMaxDuration,
		clock:       time.Now,
		language:    DefaultLanguageCode,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	if o.maxSilence <= 0 {
		o.maxSilence = DefaultMaxSilence
	}
	if o.maxDuration <= 0 {
		o.maxDuration = DefaultMaxDuration
	}

	now := o.clock().UTC()
	return &Session{
		ID:             o.id,
		CallID:         callID,
		TenantID:       tenantID,
		State:          StateInitializing,
		Turn:           TurnAI,
		CreatedAt:      now,
		LastActivityAt: now,
		StateChangedAt: now,
		MaxSilence:     o.maxSilence,
		MaxDuration:    o.maxDuration,
		History:        []Entry{},
		PendingSTT:     []string{},
		PendingLLM:     []string{},
		PendingTTS:     []string{},
		LanguageCode:   o.language,
		Metadata:       map[string]any{},
		now:            o.clock,
	}
}

func (s *Session) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

func (s *Session) emit(t events.Type) *events.Event {
	s.outbox = append(s.outbox, events.New(t, s.TenantID, s.CallID, s.ID, s.clock()))
	return &s.outbox[len(s.outbox)-1]
}

// drainEvents hands buffered events to the caller and clears the buffer.
func (s *Session) drainEvents() []events.Event {
	out := s.outbox
	s.outbox = nil
	return out
}

// ChangeState is the only path by which State changes. Setting the current
// state again is a no-op: no history entry, no timestamp update.
func (s *Session) ChangeState(to State, reason string) {
	if s.State == to {
		return
	}
	from := s.State
	now := s.clock()
	s.State = to
	s.StateChangedAt = now
	s.LastActivityAt = now
	s.History = append(s.History, Entry{
		Type:      EntryStateChange,
		Timestamp: now,
		FromState: from,
		ToState:   to,
		Reason:    reason,
	})

	ev := s.emit(events.TypeStateChange)
	ev.FromState, ev.ToState, ev.Reason = string(from), string(to), reason
	if to == StateEnded {
		ended := s.emit(events.TypeSessionEnded)
		ended.FromState, ended.ToState, ended.Reason = string(from), string(to), reason
	}
}

func (s *Session) SetTurn(t Turn) {
	s.Turn = t
	s.LastActivityAt = s.clock()
}

func (s *Session) StartRecording(streamID string) {
	s.AudioStreamID = streamID
	s.IsRecording = true
	s.ChangeState(StateListening, "started recording")
}

// StopRecording moves LISTENING to PROCESSING. In any other state only the
// flag is cleared.
func (s *Session) StopRecording() {
	s.IsRecording = false
	if s.State == StateListening {
		s.ChangeState(StateProcessing, "stopped recording")
	}
}

func (s *Session) StartPlaying() {
	s.IsPlaying = true
	s.ChangeState(StateSpeaking, "started playing")
}

// StopPlaying hands the turn to the caller when playback finishes while
// SPEAKING. In any other state only the flag is cleared.
func (s *Session) StopPlaying() {
	s.IsPlaying = false
	if s.State == StateSpeaking {
		s.ChangeState(StateWaitingForResponse, "finished playing")
		s.SetTurn(TurnCaller)
	}
}

// AddUserInput records an STT result. confidence may be nil.
func (s *Session) AddUserInput(text string, confidence *float64) {
	now := s.clock()
	s.LastUserInput = text
	s.LastActivityAt = now
	s.History = append(s.History, Entry{
		Type:       EntryUserInput,
		Timestamp:  now,
		Text:       text,
		Confidence: confidence,
	})
	if s.State == StateListening {
		s.ChangeState(StateProcessing, "received user input")
	}
}

// AddAIResponse records an LLM reply. It does not change state; the caller
// drives playback afterwards.
func (s *Session) AddAIResponse(text, provider, model string, latencyMs *int) {
	now := s.clock()
	s.LastAIResponse = text
	s.LastActivityAt = now
	s.History = append(s.History, Entry{
		Type:      EntryAIResponse,
		Timestamp: now,
		Text:      text,
		Provider:  provider,
		Model:     model,
		LatencyMs: latencyMs,
	})
}

func (s *Session) AddSystemMessage(message, level string) {
	if level == "" {
		level = "info"
	}
	s.History = append(s.History, Entry{
		Type:      EntrySystemMessage,
		Timestamp: s.clock(),
		Message:   message,
		Level:     level,
	})
}

// AddError never fails. From the third error on the session is in ERROR;
// once there, further errors only append.
func (s *Session) AddError(message string) {
	s.ErrorCount++
	s.LastError = message
	s.History = append(s.History, Entry{
		Type:       EntryError,
		Timestamp:  s.clock(),
		Message:    message,
		ErrorCount: s.ErrorCount,
	})

	ev := s.emit(events.TypeError)
	ev.Message, ev.ErrorCount, ev.ToState = message, s.ErrorCount, string(s.State)

	if s.ErrorCount >= ErrorThreshold {
		s.ChangeState(StateError, message)
	}
}

func (s *Session) IncrementRetry() int {
	s.RetryCount++
	return s.RetryCount
}

func (s *Session) SetPrompt(prompt string) {
	s.CurrentPrompt = prompt
}

func (s *Session) pendingList(kind RequestKind) *[]string {
	switch kind {
	case KindSTT:
		return &s.PendingSTT
	case KindLLM:
		return &s.PendingLLM
	case KindTTS:
		return &s.PendingTTS
	}
	return nil
}

// AddPendingRequest appends id unconditionally; a duplicate id is kept and
// needs a matching number of removals. Unknown kinds are ignored.
func (s *Session) AddPendingRequest(kind RequestKind, id string) {
	if l := s.pendingList(kind); l != nil {
		*l = append(*l, id)
	}
}

// RemovePendingRequest deletes the first occurrence of id. Absent ids and
// unknown kinds are ignored.
func (s *Session) RemovePendingRequest(kind RequestKind, id string) {
	l := s.pendingList(kind)
	if l == nil {
		return
	}
	for i, v := range *l {
		if v == id {
			*l = append((*l)[:i], (*l)[i+1:]...)
			return
		}
	}
}

func (s *Session) HasPendingRequests() bool {
	return len(s.PendingSTT) > 0 || len(s.PendingLLM) > 0 || len(s.PendingTTS) > 0
}

// EndSession moves to ENDED and abandons outstanding requests. Nothing is
// cancelled upstream; pipelines find the session gone on completion.
func (s *Session) EndSession(reason string) {
	s.ChangeState(StateEnded, reason)
	s.IsRecording = false
	s.IsPlaying = false
	s.PendingSTT = []string{}
	s.PendingLLM = []string{}
	s.PendingTTS = []string{}
}

func (s *Session) IsExpired() bool {
	return s.clock().Sub(s.CreatedAt) > s.MaxDuration
}

func (s *Session) IsIdle() bool {
	return s.clock().Sub(s.LastActivityAt) > s.MaxSilence
}

// ConversationContext returns the last maxTurns user_input/ai_response
// entries in history order. maxTurns <= 0 yields none.
func (s *Session) ConversationContext(maxTurns int) []Entry {
	if maxTurns <= 0 {
		return []Entry{}
	}
	turns := make([]Entry, 0, len(s.History))
	for _, e := range s.History {
		if e.Type == EntryUserInput || e.Type == EntryAIResponse {
			turns = append(turns, e)
		}
	}
	if len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	return turns
}

func (s *Session) SetMetadata(key string, value any) {
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	s.Metadata[key] = value
}

func (s *Session) MetadataValue(key string, def any) any {
	if v, ok := s.Metadata[key]; ok {
		return v
	}
	return def
}

func (s *Session) Summary() Summary {
	turns := 0
	for _, e := range s.History {
		if e.Type == EntryUserInput || e.Type == EntryAIResponse {
			turns++
		}
	}
	return Summary{
		SessionID:         s.ID,
		CallID:            s.CallID,
		TenantID:          s.TenantID,
		State:             s.State,
		Turn:              s.Turn,
		DurationSeconds:   int(s.clock().Sub(s.CreatedAt) / time.Second),
		ConversationTurns: turns,
		ErrorCount:        s.ErrorCount,
		LastError:         s.LastError,
		IsRecording:       s.IsRecording,
		IsPlaying:         s.IsPlaying,
		Pending: PendingCounts{
			STT: len(s.PendingSTT),
			LLM: len(s.PendingLLM),
			TTS: len(s.PendingTTS),
		},
		Idle:    s.IsIdle(),
		Expired: s.IsExpired(),
	}
}

// Clone returns a deep copy sharing nothing mutable with s. The clock is
// kept; buffered events are not.
func (s *Session) Clone() *Session {
	out := *s
	out.History = append([]Entry{}, s.History...)
	out.PendingSTT = append([]string{}, s.PendingSTT...)
	out.PendingLLM = append([]string{}, s.PendingLLM...)
	out.PendingTTS = append([]string{}, s.PendingTTS...)
	out.Metadata = make(map[string]any, len(s.Metadata))
	for k, v := range s.Metadata {
		out.Metadata[k] = v
	}
	out.outbox = nil
	return &out
}
