package router

import (
	"github.com/labstack/echo/v4"

	"tradeup/internal/adapter/api/handler"
	"tradeup/internal/adapter/api/middleware"
)

// SetupWebSocketRouter registers /ws. Browsers cannot set headers on the
// upgrade request so the token may also come as a query parameter.
func SetupWebSocketRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	wsHandler := handler.GetWebSocketHandler()
	e.GET("/ws", wsHandler.HandleWebSocket, authMiddleware.AuthenticateWebSocket)
}
