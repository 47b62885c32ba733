package router

import (
	"github.com/labstack/echo/v4"

	"tradeup/internal/adapter/api/handler"
	"tradeup/internal/adapter/api/middleware"
)

func SetupMessageRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	messageHandler := handler.GetMessageHandler()

	messages := e.Group("/v1/messages")
	messages.Use(authMiddleware.Authenticate)

	messages.POST("/delete", messageHandler.DeleteMessages)
	messages.DELETE("/:id", messageHandler.DeleteMessage)
	messages.POST("/:id/report", messageHandler.ReportMessage)
}
