package handlers

import (
	"github.com/gin-gonic/gin"

	"frameworks/api_lookout/pkg/middleware"
)

// SetupRoutes mounts the API on the shared service router.
func SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.Use(middleware.ConnectionScopeMiddleware(reg.DefaultID))

	anomaly := api.Group("/anomaly")
	{
		anomaly.GET("/live", func(c middleware.Context) {
			hub.ServeWS(c.Writer, c.Request)
		})
		anomaly.GET("/events", GetAnomalyEvents)
		anomaly.GET("/events/history", GetAnomalyHistory)
		anomaly.POST("/events/:id/resolve", ResolveAnomaly)
		anomaly.POST("/events/clear-resolved", ClearResolvedAnomalies)
		anomaly.GET("/groups", GetAnomalyGroups)
		anomaly.GET("/groups/history", GetGroupHistory)
		anomaly.POST("/groups/:correlationId/resolve", ResolveGroup)
		anomaly.GET("/summary", GetAnomalySummary)
		anomaly.GET("/buffers", GetBufferStats)
	}

	webhooks := api.Group("/webhooks")
	{
		webhooks.POST("", CreateWebhook)
		webhooks.GET("", ListWebhooks)
		webhooks.GET("/stats/retry-queue", GetRetryQueueStats)
		webhooks.GET("/deliveries/dead-letter", ListDeadLetters)
		webhooks.POST("/deliveries/:id/requeue", RequeueDelivery)
		webhooks.GET("/:id", GetWebhook)
		webhooks.PUT("/:id", UpdateWebhook)
		webhooks.PATCH("/:id", UpdateWebhook)
		webhooks.DELETE("/:id", DeleteWebhook)
		webhooks.POST("/:id/test", TestWebhook)
		webhooks.GET("/:id/deliveries", ListDeliveries)
	}

	connections := api.Group("/connections")
	{
		connections.POST("", AddConnection)
		connections.GET("", ListConnections)
		connections.DELETE("/:id", RemoveConnection)
		connections.POST("/:id/default", SetDefaultConnection)
		connections.POST("/:id/ping", PingConnection)
	}
}
