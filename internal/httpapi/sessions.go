package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ai-hotline/internal/session"
	"ai-hotline/pkg/logger"
)

func (h Handlers) ListSessions(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	live := h.Flow.LiveSessions(c.Request.Context(), id.TenantID)
	out := make([]session.Summary, 0, len(live))
	for _, s := range live {
		out = append(out, s.Summary())
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (h Handlers) GetSession(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	snap, err := h.Flow.Session(c.Request.Context(), id.TenantID, c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h Handlers) SessionSummary(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	snap, err := h.Flow.Session(c.Request.Context(), id.TenantID, c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap.Summary())
}

// ConversationContext returns the last max_turns (default 10) input and
// response entries, oldest first.
func (h Handlers) ConversationContext(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	maxTurns := 10
	if s := c.Query("max_turns"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "max_turns must be a non-negative integer"})
			return
		}
		maxTurns = n
	}
	snap, err := h.Flow.Session(c.Request.Context(), id.TenantID, c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": snap.ConversationContext(maxTurns)})
}

// mutate applies fn to the caller's session and responds with the new state.
func (h Handlers) mutate(c *gin.Context, fn func(*session.Session)) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	snap, err := h.Flow.SessionDo(c.Request.Context(), id.TenantID, c.Param("session_id"), fn)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap.Summary())
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return false
	}
	return true
}

type recordingRequest struct {
	StreamID string `json:"stream_id"`
}

func (h Handlers) StartRecording(c *gin.Context) {
	var req recordingRequest
	if !bind(c, &req) {
		return
	}
	if req.StreamID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "stream_id required"})
		return
	}
	h.mutate(c, func(s *session.Session) { s.StartRecording(req.StreamID) })
}

func (h Handlers) StopRecording(c *gin.Context) {
	h.mutate(c, func(s *session.Session) { s.StopRecording() })
}

func (h Handlers) StartPlaying(c *gin.Context) {
	h.mutate(c, func(s *session.Session) { s.StartPlaying() })
}

func (h Handlers) StopPlaying(c *gin.Context) {
	h.mutate(c, func(s *session.Session) { s.StopPlaying() })
}

type userInputRequest struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
}

func (h Handlers) AddUserInput(c *gin.Context) {
	var req userInputRequest
	if !bind(c, &req) {
		return
	}
	if req.Text == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "text required"})
		return
	}
	h.mutate(c, func(s *session.Session) { s.AddUserInput(req.Text, req.Confidence) })
}

type aiResponseRequest struct {
	Text             string `json:"text"`
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	ProcessingTimeMs *int   `json:"processing_time_ms"`
}

func (h Handlers) AddAIResponse(c *gin.Context) {
	var req aiResponseRequest
	if !bind(c, &req) {
		return
	}
	if req.Text == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "text required"})
		return
	}
	h.mutate(c, func(s *session.Session) {
		s.AddAIResponse(req.Text, req.Provider, req.Model, req.ProcessingTimeMs)
	})
}

type systemMessageRequest struct {
	Message string `json:"message"`
	Level   string `json:"level"`
}

func (h Handlers) AddSystemMessage(c *gin.Context) {
	var req systemMessageRequest
	if !bind(c, &req) {
		return
	}
	if req.Message == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "message required"})
		return
	}
	h.mutate(c, func(s *session.Session) { s.AddSystemMessage(req.Message, req.Level) })
}

type errorRequest struct {
	Message string `json:"message"`
}

func (h Handlers) AddError(c *gin.Context) {
	var req errorRequest
	if !bind(c, &req) {
		return
	}
	if req.Message == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "message required"})
		return
	}
	h.mutate(c, func(s *session.Session) { s.AddError(req.Message) })
}

type pendingRequest struct {
	Kind      string `json:"kind"`
	RequestID string `json:"request_id"`
}

func (h Handlers) AddPendingRequest(c *gin.Context) {
	var req pendingRequest
	if !bind(c, &req) {
		return
	}
	kind, err := session.ParseRequestKind(req.Kind)
	if err != nil {
		writeError(c, err)
		return
	}
	if req.RequestID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "request_id required"})
		return
	}
	h.mutate(c, func(s *session.Session) { s.AddPendingRequest(kind, req.RequestID) })
}

func (h Handlers) RemovePendingRequest(c *gin.Context) {
	kind, err := session.ParseRequestKind(c.Param("kind"))
	if err != nil {
		writeError(c, err)
		return
	}
	rid := c.Param("request_id")
	h.mutate(c, func(s *session.Session) { s.RemovePendingRequest(kind, rid) })
}

type turnRequest struct {
	Turn string `json:"turn"`
}

func (h Handlers) SetTurn(c *gin.Context) {
	var req turnRequest
	if !bind(c, &req) {
		return
	}
	t, err := session.ParseTurn(req.Turn)
	if err != nil {
		writeError(c, err)
		return
	}
	h.mutate(c, func(s *session.Session) { s.SetTurn(t) })
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

func (h Handlers) SetPrompt(c *gin.Context) {
	var req promptRequest
	if !bind(c, &req) {
		return
	}
	h.mutate(c, func(s *session.Session) { s.SetPrompt(req.Prompt) })
}

func (h Handlers) SetSessionMetadata(c *gin.Context) {
	var req keyValueRequest
	if !bind(c, &req) {
		return
	}
	if req.Key == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "key required"})
		return
	}
	h.mutate(c, func(s *session.Session) { s.SetMetadata(req.Key, req.Value) })
}

func (h Handlers) IncrementRetry(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	var count int
	_, err := h.Flow.SessionDo(c.Request.Context(), id.TenantID, c.Param("session_id"), func(s *session.Session) {
		count = s.IncrementRetry()
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"retry_count": count})
}

type stateRequest struct {
	State  string `json:"state"`
	Reason string `json:"reason"`
}

// ChangeState forces a state transition. This is the only way out of ERROR
// and is recorded as an admin action.
func (h Handlers) ChangeState(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	var req stateRequest
	if !bind(c, &req) {
		return
	}
	to, err := session.ParseState(req.State)
	if err != nil {
		writeError(c, err)
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual override"
	}

	var from session.State
	snap, err := h.Flow.SessionDo(c.Request.Context(), id.TenantID, c.Param("session_id"), func(s *session.Session) {
		from = s.State
		s.ChangeState(to, reason)
	})
	if err != nil {
		writeError(c, err)
		return
	}

	if h.Audit != nil {
		meta, _ := json.Marshal(gin.H{"session_id": snap.ID, "from_state": from, "to_state": to})
		if err := h.Audit.LogAdminAction(c.Request.Context(), id.TenantID, id.UserID, id.Role, c.ClientIP(), snap.CallID, "session state override: "+reason, string(meta)); err != nil {
			logger.FromGin(c).Warn("audit admin action failed", zap.String("session_id", snap.ID), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, snap.Summary())
}
