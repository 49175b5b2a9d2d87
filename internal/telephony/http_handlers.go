package telephony

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ai-hotline/pkg/logger"
)

// TwilioWebhookHandler converts Twilio webhooks to internal types,
// delegates to the provider adapter, and writes TwiML.
//
// Tenant scoping: the tenant is resolved from the dialed number.
type TwilioWebhookHandler struct {
	Provider *TwilioProvider

	// Validator is nil when signature checks are disabled (local dev).
	Validator *SignatureValidator

	Now func() time.Time
}

func (h TwilioWebhookHandler) Register(r gin.IRoutes) {
	r.POST("/webhooks/twilio/voice", h.HandleInboundCall)
	r.POST("/webhooks/twilio/status", h.HandleStatus)
	r.POST("/webhooks/twilio/recording", h.HandleRecording)
}

func (h TwilioWebhookHandler) HandleInboundCall(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Now == nil {
		h.Now = time.Now
	}
	if h.Provider == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "telephony provider not configured"})
		return
	}

	form, err := ParseTwilioInboundCall(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if !h.Validator.Valid(c.Request) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		return
	}

	tenantID, err := h.Provider.ResolveTenant(form.To)
	if err != nil {
		log.Warn("tenant resolution failed", zap.String("to", form.To), zap.Error(err))
		h.writeTwiML(c, InboundCallResult{Action: InboundCallActionReject})
		return
	}

	res, err := h.Provider.HandleInboundCall(c.Request.Context(), form.ToInboundCallRequest(tenantID, h.Now()))
	if errors.Is(err, ErrCallInFlight) {
		// No TwiML: hanging up here would drop the leg the other request is setting up.
		log.Warn("duplicate inbound webhook", zap.String("call_sid", form.CallSid))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "call setup in progress"})
		return
	}
	if err != nil {
		log.Error("inbound call failed",
			zap.String("tenant_id", tenantID),
			zap.String("call_sid", form.CallSid),
			zap.Error(err),
		)
		h.writeTwiML(c, InboundCallResult{Action: InboundCallActionHangup})
		return
	}
	log.Info("inbound call",
		zap.String("tenant_id", tenantID),
		zap.String("call_id", res.CallID),
		zap.String("action", string(res.Action)),
	)
	h.writeTwiML(c, res)
}

func (h TwilioWebhookHandler) HandleStatus(c *gin.Context) {
	if h.Provider == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "telephony provider not configured"})
		return
	}
	upd, err := ParseTwilioStatus(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if !h.Validator.Valid(c.Request) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		return
	}
	if err := h.Provider.HandleStatus(c.Request.Context(), upd); err != nil {
		h.callbackError(c, err, "status callback failed", upd.ProviderCallID)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h TwilioWebhookHandler) HandleRecording(c *gin.Context) {
	if h.Provider == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "telephony provider not configured"})
		return
	}
	rec, err := ParseTwilioRecording(c.Request)
	if err != nil || rec.RecordingURL == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if !h.Validator.Valid(c.Request) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		return
	}
	if err := h.Provider.HandleRecording(c.Request.Context(), rec); err != nil {
		h.callbackError(c, err, "recording callback failed", rec.ProviderCallID)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h TwilioWebhookHandler) callbackError(c *gin.Context, err error, msg, callSid string) {
	logger.FromGin(c).Warn(msg, zap.String("call_sid", callSid), zap.Error(err))
	if errors.Is(err, ErrUnknownNumber) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown destination"})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "callback failed"})
}

func (h TwilioWebhookHandler) writeTwiML(c *gin.Context, res InboundCallResult) {
	twiml, err := RenderTwiML(res)
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Data(http.StatusOK, "application/xml", []byte(twiml))
}
