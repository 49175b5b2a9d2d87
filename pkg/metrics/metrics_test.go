package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTransition(t *testing.T) {
	before := testutil.ToFloat64(SessionTransitions.WithLabelValues("listening", "processing"))
	RecordTransition("listening", "processing")
	after := testutil.ToFloat64(SessionTransitions.WithLabelValues("listening", "processing"))
	if after-before != 1 {
		t.Fatalf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestRecordCallEnded_NilDuration(t *testing.T) {
	before := testutil.ToFloat64(CallsEnded.WithLabelValues("cancelled"))
	RecordCallEnded("cancelled", nil)
	if got := testutil.ToFloat64(CallsEnded.WithLabelValues("cancelled")); got-before != 1 {
		t.Fatalf("expected ended counter increment")
	}
}

func TestHandler_ServesRegistry(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Middleware())
	r.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "hotline_sessions_active") {
		t.Fatalf("expected hotline metrics in output")
	}
}
