package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ai-hotline/internal/reporting"
)

// CallsReport summarizes calls created in [from, to). The range defaults to
// the last 24 hours.
func (h Handlers) CallsReport(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	from, err := parseTimeQuery(c, "from")
	if err != nil {
		return
	}
	to, err := parseTimeQuery(c, "to")
	if err != nil {
		return
	}
	if to.IsZero() {
		to = h.now()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		TenantID: id.TenantID,
		Range:    reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) SessionsReport(c *gin.Context) {
	id, ok := callerIdentity(c)
	if !ok {
		return
	}
	out, err := h.Reports.SessionsSummary(c.Request.Context(), id.TenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
