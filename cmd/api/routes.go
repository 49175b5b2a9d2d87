package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ai-hotline/internal/audit"
	"ai-hotline/internal/auth"
	"ai-hotline/internal/callflow"
	"ai-hotline/internal/config"
	"ai-hotline/internal/httpapi"
	"ai-hotline/internal/reporting"
	"ai-hotline/internal/telephony"
	"ai-hotline/pkg/metrics"
	"ai-hotline/pkg/utils"
)

type routeDeps struct {
	cfg      config.Config
	infra    infra
	auth     *auth.Manager
	flow     *callflow.Service
	audit    *audit.Service
	reports  *reporting.Service
	twilio   *telephony.TwilioProvider
	validate *telephony.SignatureValidator
}

func (d routeDeps) handlers() httpapi.Handlers {
	return httpapi.Handlers{
		Auth:    d.auth,
		Flow:    d.flow,
		Reports: d.reports,
		Audit:   d.audit,

		DisableLogin: d.cfg.IsProduction(),
	}
}

// registerPublicRoutes wires health, metrics and provider webhooks.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerPublicRoutes(r *gin.Engine, d routeDeps) {
	r.Use(metrics.Middleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		checks := gin.H{}
		ready := true
		if d.infra.db != nil {
			checks["postgres"] = "ok"
			if err := utils.HealthCheck(c.Request.Context(), d.infra.db, 2*time.Second); err != nil {
				checks["postgres"], ready = err.Error(), false
			}
		}
		if d.infra.rdb != nil {
			checks["redis"] = "ok"
			if err := utils.PingRedis(c.Request.Context(), d.infra.rdb, 2*time.Second); err != nil {
				checks["redis"], ready = err.Error(), false
			}
		}
		if d.infra.nats != nil {
			checks["nats"] = "ok"
			if !d.infra.nats.IsConnected() {
				checks["nats"], ready = "disconnected", false
			}
		}
		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": checks})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
	})
	r.GET("/metrics", metrics.Handler())

	telephony.TwilioWebhookHandler{Provider: d.twilio, Validator: d.validate}.Register(r)
}

func registerAuthRoutes(r *gin.Engine, d routeDeps) {
	d.handlers().RegisterAuth(r.Group("/v1/auth"))
}

func registerProtectedRoutes(r *gin.Engine, d routeDeps, authMW gin.HandlerFunc) {
	v1 := r.Group("/v1")
	v1.Use(authMW)
	d.handlers().Register(v1)
}
