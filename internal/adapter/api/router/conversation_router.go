package router

import (
	"github.com/labstack/echo/v4"

	"tradeup/internal/adapter/api/handler"
	"tradeup/internal/adapter/api/middleware"
	"tradeup/internal/infrastructure/ratelimit"
)

func SetupConversationRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	conversationHandler := handler.GetConversationHandler()
	messageHandler := handler.GetMessageHandler()

	conversations := e.Group("/v1/conversations")
	conversations.Use(authMiddleware.Authenticate)

	conversations.POST("", conversationHandler.CreateConversation, middleware.RateLimit(limiter, ratelimit.ActionCreateChat))
	conversations.GET("", conversationHandler.GetUserConversations)
	conversations.GET("/:id", conversationHandler.GetConversation)
	conversations.DELETE("/:id", conversationHandler.DeleteConversation)
	conversations.POST("/:id/report", conversationHandler.ReportConversation)

	sendLimit := middleware.RateLimit(limiter, ratelimit.ActionSendMessage)
	conversations.POST("/:id/messages", messageHandler.SendMessage, sendLimit)
	conversations.POST("/:id/images", messageHandler.SendImage, sendLimit)
	conversations.GET("/:id/messages", messageHandler.GetMessages)
	conversations.PUT("/:id/read", messageHandler.MarkAsRead)
}
