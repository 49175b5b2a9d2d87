package httpapi

import (
	"github.com/gin-gonic/gin"

	"ai-hotline/internal/rbac"
)

// RegisterAuth wires token issuance. These routes are public.
func (h Handlers) RegisterAuth(rg *gin.RouterGroup) {
	if !h.DisableLogin {
		rg.POST("/login", h.Login)
	}
	rg.POST("/refresh", h.Refresh)
}

// Register wires the tenant API onto a group that already verified the
// access token.
func (h Handlers) Register(v1 *gin.RouterGroup) {
	v1.GET("/me", h.Me)

	read := RequireTenantAndAtLeast(rbac.RoleViewer)
	write := RequireTenantAndAtLeast(rbac.RoleOperator)
	admin := RequireTenantAndAtLeast(rbac.RoleTenantAdmin)

	calls := v1.Group("/calls")
	{
		calls.GET("", append(read, h.ListCalls)...)
		calls.POST("", append(write, h.CreateCall)...)
		calls.GET("/:call_id", append(read, h.GetCall)...)
		calls.GET("/:call_id/transcript", append(read, h.Transcript)...)
		calls.POST("/:call_id/start", append(write, h.StartCall)...)
		calls.POST("/:call_id/end", append(write, h.EndCall)...)
		calls.PUT("/:call_id/satisfaction", append(write, h.SetSatisfaction)...)
		calls.PUT("/:call_id/resolution", append(write, h.MarkResolution)...)
		calls.POST("/:call_id/automations", append(write, h.TriggerAutomation)...)
		calls.PUT("/:call_id/context", append(write, h.SetCallContext)...)
		calls.GET("/:call_id/audit", append(admin, h.CallAudit)...)
	}

	sessions := v1.Group("/sessions")
	{
		sessions.GET("", append(read, h.ListSessions)...)
		sessions.GET("/:session_id", append(read, h.GetSession)...)
		sessions.GET("/:session_id/summary", append(read, h.SessionSummary)...)
		sessions.GET("/:session_id/context", append(read, h.ConversationContext)...)

		sessions.POST("/:session_id/recording/start", append(write, h.StartRecording)...)
		sessions.POST("/:session_id/recording/stop", append(write, h.StopRecording)...)
		sessions.POST("/:session_id/playback/start", append(write, h.StartPlaying)...)
		sessions.POST("/:session_id/playback/stop", append(write, h.StopPlaying)...)
		sessions.POST("/:session_id/input", append(write, h.AddUserInput)...)
		sessions.POST("/:session_id/response", append(write, h.AddAIResponse)...)
		sessions.POST("/:session_id/system", append(write, h.AddSystemMessage)...)
		sessions.POST("/:session_id/errors", append(write, h.AddError)...)
		sessions.POST("/:session_id/pending", append(write, h.AddPendingRequest)...)
		sessions.DELETE("/:session_id/pending/:kind/:request_id", append(write, h.RemovePendingRequest)...)
		sessions.PUT("/:session_id/turn", append(write, h.SetTurn)...)
		sessions.PUT("/:session_id/prompt", append(write, h.SetPrompt)...)
		sessions.PUT("/:session_id/metadata", append(write, h.SetSessionMetadata)...)
		sessions.POST("/:session_id/retry", append(write, h.IncrementRetry)...)

		sessions.POST("/:session_id/state", append(admin, h.ChangeState)...)
	}

	reports := v1.Group("/reports")
	reports.Use(read...)
	{
		reports.GET("/calls", h.CallsReport)
		reports.GET("/sessions", h.SessionsReport)
	}
}

// RequireTenantAndAtLeast bundles tenant isolation with a minimum role.
// It returns a fresh slice so callers may append handlers.
func RequireTenantAndAtLeast(role string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireTenant(), rbac.RequireAtLeast(role)}
}
