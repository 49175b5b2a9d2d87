package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ai-hotline/internal/calls"
)

type createCallRequest struct {
	PhoneNumber  string         `json:"phone_number"`
	CallerName   string         `json:"caller_name"`
	Direction    string         `json:"direction"`
	Priority     string         `json:"priority"`
	LanguageCode string         `json:"language_code"`
	Metadata     map[string]any `json:"metadata"`
}

func (h Handlers) CreateCall(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	call, err := h.Flow.CreateCall(c.Request.Context(), calls.NewCallInput{
		TenantID:     id.TenantID,
		PhoneNumber:  req.PhoneNumber,
		CallerName:   req.CallerName,
		Direction:    calls.Direction(req.Direction),
		Priority:     calls.Priority(req.Priority),
		LanguageCode: req.LanguageCode,
		Metadata:     req.Metadata,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, call)
}

func (h Handlers) ListCalls(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	f := calls.ListFilter{TenantID: id.TenantID, Limit: 100}
	if s := c.Query("status"); s != "" {
		f.Status = calls.Status(s)
	}
	var err error
	if f.From, err = parseTimeQuery(c, "from"); err != nil {
		return
	}
	if f.To, err = parseTimeQuery(c, "to"); err != nil {
		return
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be 1..1000"})
			return
		}
		f.Limit = n
	}
	rows, err := h.Flow.ListCalls(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]calls.Summary, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].Summary())
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

func (h Handlers) GetCall(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	call, err := h.Flow.GetCall(c.Request.Context(), id.TenantID, c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) StartCall(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	call, sess, err := h.Flow.StartCall(c.Request.Context(), id.TenantID, c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call, "session": sess})
}

type endCallRequest struct {
	Reason string `json:"reason"`
}

// EndCall ends a call. The reason text is classified: text mentioning
// "error" fails the call, "cancel" cancels it, anything else completes it.
func (h Handlers) EndCall(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	var req endCallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	call, err := h.Flow.EndCall(c.Request.Context(), id.TenantID, c.Param("call_id"), calls.ParseEndReason(req.Reason))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) Transcript(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	call, err := h.Flow.GetCall(c.Request.Context(), id.TenantID, c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transcript": call.FullTranscript(), "segments": call.Transcript})
}

type satisfactionRequest struct {
	Score *float64 `json:"score"`
}

func (h Handlers) SetSatisfaction(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	var req satisfactionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Score == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "score required"})
		return
	}
	call, err := h.Flow.SetSatisfaction(c.Request.Context(), id.TenantID, c.Param("call_id"), *req.Score)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call.Summary())
}

type resolutionRequest struct {
	Achieved *bool `json:"achieved"`
}

func (h Handlers) MarkResolution(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	var req resolutionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Achieved == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "achieved required"})
		return
	}
	call, err := h.Flow.MarkResolution(c.Request.Context(), id.TenantID, c.Param("call_id"), *req.Achieved)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call.Summary())
}

type automationRequest struct {
	Name string `json:"name"`
}

func (h Handlers) TriggerAutomation(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	var req automationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}
	call, err := h.Flow.UpdateCall(c.Request.Context(), id.TenantID, c.Param("call_id"), func(call *calls.Call) error {
		call.TriggerAutomation(req.Name)
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"automations": call.Automations})
}

type keyValueRequest struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (h Handlers) SetCallContext(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	var req keyValueRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Key == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "key required"})
		return
	}
	call, err := h.Flow.UpdateCall(c.Request.Context(), id.TenantID, c.Param("call_id"), func(call *calls.Call) error {
		call.SetContext(req.Key, req.Value)
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"context_data": call.ContextData})
}

// CallAudit returns the internal audit trail of a call.
func (h Handlers) CallAudit(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "audit not configured"})
		return
	}
	callID := c.Param("call_id")
	if _, err := h.Flow.GetCall(c.Request.Context(), id.TenantID, callID); err != nil {
		writeError(c, err)
		return
	}
	trail, err := h.Audit.CallTrail(c.Request.Context(), id.TenantID, callID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": trail})
}

// parseTimeQuery reads an optional RFC 3339 query value. On a bad value it
// aborts the request and returns a non-nil error.
func parseTimeQuery(c *gin.Context, key string) (time.Time, error) {
	s := c.Query(key)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": key + " must be RFC 3339"})
		return time.Time{}, err
	}
	return t, nil
}
