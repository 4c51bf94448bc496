package router

import (
	"github.com/labstack/echo/v4"

	"carelink/internal/adapter/api/handler"
	"carelink/internal/adapter/api/middleware"
	"carelink/internal/infrastructure/ratelimit"
)

// SetupConversationRouter sets up the HTTP fallback for the realtime channel.
func SetupConversationRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	conversationHandler := handler.GetConversationHandler()
	messageHandler := handler.GetMessageHandler()
	readStateHandler := handler.GetReadStateHandler()

	conversations := e.Group("/v1/conversations")
	conversations.Use(authMiddleware.Authenticate)
	if limiter != nil {
		conversations.Use(middleware.RateLimit(limiter))
	}

	conversations.POST("/direct", conversationHandler.OpenDirect)
	conversations.POST("/appointment", conversationHandler.OpenForAppointment)
	conversations.GET("", conversationHandler.List)
	conversations.GET("/unread", readStateHandler.UnreadSummary)
	conversations.GET("/:id", conversationHandler.Get)
	conversations.POST("/:id/close", conversationHandler.Close)

	conversations.GET("/:id/messages", messageHandler.History)
	conversations.POST("/:id/messages", messageHandler.Send)
	conversations.POST("/:id/attachments", messageHandler.Attach)
	conversations.GET("/:id/messages/:messageId/attachment", messageHandler.Download)

	conversations.PUT("/:id/read", readStateHandler.MarkRead)
	conversations.GET("/:id/read", readStateHandler.Markers)
}
