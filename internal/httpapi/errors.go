package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ai-hotline/internal/callflow"
	"ai-hotline/internal/calls"
	"ai-hotline/internal/reporting"
	"ai-hotline/internal/session"
	"ai-hotline/pkg/logger"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, calls.ErrNotFound), errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, calls.ErrInvalidPhoneNumber),
		errors.Is(err, calls.ErrInvalidCall),
		errors.Is(err, calls.ErrInvalidSatisfaction),
		errors.Is(err, session.ErrUnknownKind),
		errors.Is(err, session.ErrUnknownState),
		errors.Is(err, session.ErrUnknownTurn),
		errors.Is(err, reporting.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, calls.ErrInvalidTransition),
		errors.Is(err, calls.ErrCallAlreadyEnded),
		errors.Is(err, calls.ErrStaleSnapshot),
		errors.Is(err, calls.ErrCallExists),
		errors.Is(err, callflow.ErrNoSession),
		errors.Is(err, session.ErrExists),
		errors.Is(err, session.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, callflow.ErrCapacity):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps domain errors to HTTP. Internal errors are logged, not echoed.
func writeError(c *gin.Context, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", zap.Error(err))
		_ = c.Error(err)
		c.AbortWithStatusJSON(code, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}
