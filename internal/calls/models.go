package calls

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidPhoneNumber  = errors.New("calls: invalid phone number")
	ErrInvalidCall         = errors.New("calls: invalid call")
	ErrInvalidTransition   = errors.New("calls: invalid status transition")
	ErrCallAlreadyEnded    = errors.New("calls: call already ended")
	ErrInvalidSatisfaction = errors.New("calls: satisfaction score out of range")
	ErrNotFound            = errors.New("calls: not found")
	ErrStaleSnapshot       = errors.New("calls: stale snapshot")
	ErrCallExists          = errors.New("calls: call already exists")
)

// Call is the durable record of one tenant-scoped phone interaction.
//
// Multi-tenant invariant: TenantID is required on every row.
//
// Provider-specific identifiers (like a Twilio CallSid) live in Metadata,
// not in this provider-agnostic core model.
type Call struct {
	ID          string    `json:"id" db:"id"`
	TenantID    string    `json:"tenant_id" db:"tenant_id"`
	PhoneNumber string    `json:"phone_number" db:"phone_number"`
	CallerName  string    `json:"caller_name,omitempty" db:"caller_name"`
	Direction   Direction `json:"direction" db:"direction"`
	Priority    Priority  `json:"priority" db:"priority"`
	Status      Status    `json:"status" db:"status"`

	LanguageCode string `json:"language_code,omitempty" db:"language_code"`

	SessionID string     `json:"session_id,omitempty" db:"session_id"`
	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// DurationSeconds is set only when both StartedAt and EndedAt are set.
	DurationSeconds *int `json:"duration_seconds,omitempty" db:"duration_seconds"`

	AudioFiles      []string            `json:"audio_files" db:"audio_files"`
	Transcript      []TranscriptSegment `json:"transcript" db:"transcript"`
	LLMInteractions []LLMInteraction    `json:"llm_interactions" db:"llm_interactions"`
	Errors          []string            `json:"errors" db:"errors"`
	Automations     []string            `json:"automations" db:"automations"`
	ContextData     map[string]any      `json:"context" db:"context"`
	Metadata        map[string]any      `json:"metadata" db:"metadata"`

	SatisfactionScore  *float64 `json:"satisfaction_score,omitempty" db:"satisfaction_score"`
	ResolutionAchieved *bool    `json:"resolution_achieved,omitempty" db:"resolution_achieved"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusOnHold     Status = "on_hold"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further lifecycle transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DirectionInbound, nil
	case DirectionInbound, DirectionOutbound:
		return d, nil
	default:
		return "", fmt.Errorf("%w: unknown direction %q", ErrInvalidCall, s)
	}
}

func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidCall, s)
	}
}

// TranscriptSegment is one utterance in the call transcript.
type TranscriptSegment struct {
	Text       string    `json:"text"`
	Speaker    string    `json:"speaker"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// LLMInteraction records one language model round trip.
type LLMInteraction struct {
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response"`
	Timestamp  time.Time `json:"timestamp"`
	LatencyMs  *int      `json:"latency_ms,omitempty"`
	TokensUsed *int      `json:"tokens_used,omitempty"`
}

// NewCallInput is the data required to open a call record.
type NewCallInput struct {
	ID           string
	TenantID     string
	PhoneNumber  string
	CallerName   string
	Direction    Direction
	Priority     Priority
	LanguageCode string
	Metadata     map[string]any
}

// NewCall validates input and returns a call in StatusInitiated.
// The phone number is normalized; its original formatting is not kept.
func NewCall(in NewCallInput, now time.Time) (*Call, error) {
	if strings.TrimSpace(in.ID) == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidCall)
	}
	if strings.TrimSpace(in.TenantID) == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidCall)
	}
	phone, err := NormalizePhoneNumber(in.PhoneNumber)
	if err != nil {
		return nil, err
	}
	dir, err := ParseDirection(string(in.Direction))
	if err != nil {
		return nil, err
	}
	prio, err := ParsePriority(string(in.Priority))
	if err != nil {
		return nil, err
	}
	lang := in.LanguageCode
	if lang == "" {
		lang = DefaultLanguageCode
	}
	meta := in.Metadata
	if meta == nil {
		meta = map[string]any{}
	}

	now = now.UTC()
	return &Call{
		ID:              in.ID,
		TenantID:        in.TenantID,
		PhoneNumber:     phone,
		CallerName:      in.CallerName,
		Direction:       dir,
		Priority:        prio,
		Status:          StatusInitiated,
		LanguageCode:    lang,
		AudioFiles:      []string{},
		Transcript:      []TranscriptSegment{},
		LLMInteractions: []LLMInteraction{},
		Errors:          []string{},
		Automations:     []string{},
		ContextData:     map[string]any{},
		Metadata:        meta,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// DefaultLanguageCode is used when a call is opened without one.
const DefaultLanguageCode = "ar-EG"

// Start moves an initiated call to in_progress and binds the live session.
func (c *Call) Start(sessionID string, now time.Time) error {
	if c.Status != StatusInitiated {
		return fmt.Errorf("%w: start requires status %s, got %s", ErrInvalidTransition, StatusInitiated, c.Status)
	}
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidTransition)
	}
	now = now.UTC()
	c.Status = StatusInProgress
	c.StartedAt = &now
	c.SessionID = sessionID
	c.UpdatedAt = now
	return nil
}

// End closes the call. The final status is taken from reason.
// A call that never started gets an EndedAt but no duration.
func (c *Call) End(reason EndReason, now time.Time) error {
	if c.Status.Terminal() {
		return fmt.Errorf("%w: status %s", ErrCallAlreadyEnded, c.Status)
	}
	now = now.UTC()
	c.EndedAt = &now
	if c.StartedAt != nil {
		d := int(now.Sub(*c.StartedAt) / time.Second)
		c.DurationSeconds = &d
	}
	c.Status = reason.Status()
	if reason.Kind() == EndFailed && reason.Cause() != "" {
		c.Errors = append(c.Errors, reason.Cause())
	}
	c.UpdatedAt = now
	return nil
}

// AddAudioFile records a recording reference once. Empty refs are ignored.
func (c *Call) AddAudioFile(ref string) {
	if ref == "" {
		return
	}
	for _, existing := range c.AudioFiles {
		if existing == ref {
			return
		}
	}
	c.AudioFiles = append(c.AudioFiles, ref)
}

func (c *Call) AddTranscriptSegment(seg TranscriptSegment) {
	c.Transcript = append(c.Transcript, seg)
}

func (c *Call) AddLLMInteraction(rec LLMInteraction) {
	c.LLMInteractions = append(c.LLMInteractions, rec)
}

func (c *Call) AddError(msg string) {
	c.Errors = append(c.Errors, msg)
}

func (c *Call) SetContext(key string, value any) {
	if c.ContextData == nil {
		c.ContextData = map[string]any{}
	}
	c.ContextData[key] = value
}

// Context returns the value stored under key, or def when absent.
func (c *Call) Context(key string, def any) any {
	if v, ok := c.ContextData[key]; ok {
		return v
	}
	return def
}

// TriggerAutomation records an automation name once.
func (c *Call) TriggerAutomation(name string) {
	for _, existing := range c.Automations {
		if existing == name {
			return
		}
	}
	c.Automations = append(c.Automations, name)
}

func (c *Call) SetSatisfactionScore(score float64) error {
	// Negated so NaN is rejected too.
	if !(score >= 0 && score <= 5) {
		return fmt.Errorf("%w: %v not in [0.0, 5.0]", ErrInvalidSatisfaction, score)
	}
	c.SatisfactionScore = &score
	return nil
}

func (c *Call) MarkResolution(achieved bool) {
	c.ResolutionAchieved = &achieved
}

// FullTranscript renders "speaker: text" lines in insertion order.
func (c *Call) FullTranscript() string {
	if len(c.Transcript) == 0 {
		return ""
	}
	lines := make([]string, 0, len(c.Transcript))
	for _, seg := range c.Transcript {
		lines = append(lines, seg.Speaker+": "+seg.Text)
	}
	return strings.Join(lines, "\n")
}

// IsActive reports whether the call is ringing, in progress, or on hold.
func (c *Call) IsActive() bool {
	switch c.Status {
	case StatusRinging, StatusInProgress, StatusOnHold:
		return true
	}
	return false
}

func (c *Call) IsCompleted() bool { return c.Status.Terminal() }

// Summary is a compact view of a call for listings.
type Summary struct {
	ID                   string     `json:"call_id"`
	PhoneNumber          string     `json:"phone_number"`
	CallerName           string     `json:"caller_name,omitempty"`
	Direction            Direction  `json:"direction"`
	Status               Status     `json:"status"`
	Priority             Priority   `json:"priority"`
	DurationSeconds      *int       `json:"duration_seconds,omitempty"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	EndedAt              *time.Time `json:"ended_at,omitempty"`
	TranscriptSegments   int        `json:"transcript_segments_count"`
	LLMInteractions      int        `json:"llm_responses_count"`
	AudioFiles           int        `json:"audio_files_count"`
	AutomationsTriggered []string   `json:"automations_triggered"`
	SatisfactionScore    *float64   `json:"satisfaction_score,omitempty"`
	ResolutionAchieved   *bool      `json:"resolution_achieved,omitempty"`
}

func (c *Call) Summary() Summary {
	autos := make([]string, len(c.Automations))
	copy(autos, c.Automations)
	return Summary{
		ID:                   c.ID,
		PhoneNumber:          c.PhoneNumber,
		CallerName:           c.CallerName,
		Direction:            c.Direction,
		Status:               c.Status,
		Priority:             c.Priority,
		DurationSeconds:      c.DurationSeconds,
		StartedAt:            c.StartedAt,
		EndedAt:              c.EndedAt,
		TranscriptSegments:   len(c.Transcript),
		LLMInteractions:      len(c.LLMInteractions),
		AudioFiles:           len(c.AudioFiles),
		AutomationsTriggered: autos,
		SatisfactionScore:    c.SatisfactionScore,
		ResolutionAchieved:   c.ResolutionAchieved,
	}
}
