package main

import (
	"github.com/gin-gonic/gin"

	"fieldproof/internal/connectivity"
	"fieldproof/internal/httpapi"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, probe connectivity.Probe) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "online": probe.Online()})
	})

	v1 := r.Group("/v1")
	{
		subjects := v1.Group("/subjects")
		{
			subjects.POST("/:subject_id/events", h.AppendEvent)
			subjects.GET("/:subject_id/events", h.ListEvents)
			subjects.GET("/:subject_id/verify", h.VerifyChain)
		}

		syncGroup := v1.Group("/sync")
		{
			syncGroup.GET("/status", h.SyncStatus)
			syncGroup.POST("/retry", h.SyncRetry)
			syncGroup.POST("/cancel", h.SyncCancel)
		}

		deliveries := v1.Group("/deliveries")
		{
			deliveries.POST("", h.CreateDelivery)
			deliveries.GET("", h.ListDeliveries)
			deliveries.POST("/:id/retry", h.RetryDelivery)
		}

		notifications := v1.Group("/notifications")
		{
			notifications.GET("", h.ListNotifications)
			notifications.POST("/:id/dismiss", h.DismissNotification)
		}
	}
}
