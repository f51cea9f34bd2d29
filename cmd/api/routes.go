package main

import (
	"context"
	"net/http"

	"outbound-dialer/internal/config"
	"outbound-dialer/internal/events"
	"outbound-dialer/internal/guard"
	"outbound-dialer/internal/httpapi"
	"outbound-dialer/internal/livestatus"
	"outbound-dialer/internal/metrics"
	"outbound-dialer/internal/rbac"
	"outbound-dialer/internal/reporting"
	"outbound-dialer/internal/telephony"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	authMW  gin.HandlerFunc
	guard   *guard.Service
	tracker *livestatus.Tracker
	hub     *events.Hub
	twilio  config.TwilioConfig
	// ready reports backing store health; nil means always ready.
	ready func(ctx context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if d.ready != nil {
			if err := d.ready(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Provider webhooks (public, signature-checked when a token is configured).
	{
		h := telephony.TwilioStatusHandler{
			Sink:      d.tracker,
			AuthToken: d.twilio.AuthToken,
			BaseURL:   d.twilio.WebhookBaseURL,
		}
		r.POST("/webhooks/twilio/status", h.HandleStatusCallback)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(d.authMW)
	v1.Use(rbac.RequireWorkspace())
	{
		h := httpapi.Handlers{
			Guard:   d.guard,
			Live:    d.tracker,
			Reports: reporting.NewService(d.guard),
		}
		agents := rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor)

		v1.GET("/can-call/:contactId", agents, h.CanCall)

		calls := v1.Group("/calls")
		calls.Use(agents)
		{
			calls.POST("/start", h.StartCall)
			calls.POST("/end", h.EndCall)
			calls.GET("/:attemptId/status", h.CallStatus)
		}

		reports := v1.Group("/reports")
		reports.Use(agents)
		{
			reports.GET("/attempts", h.AttemptsReport)
			reports.GET("/callers", rbac.RequireAnyRole(rbac.RoleSupervisor), h.CallersReport)
		}

		v1.GET("/events", agents, d.hub.ServeWS(httpapi.EventsScope))

		// ADMIN routes
		// Hidden reclaimer role can only trigger reclamation.
		admin := v1.Group("/admin")
		{
			admin.POST("/locks/reclaim", rbac.RequireAnyRole(rbac.RoleSupervisor, rbac.RoleReclaimer), h.ReclaimLocks)
			admin.DELETE("/locks/:contactId", rbac.RequireAnyRole(), h.ForceRelease)
		}
	}
}
