package router

import (
	"github.com/labstack/echo/v4"

	"tradeup/internal/adapter/api/handler"
	"tradeup/internal/adapter/api/middleware"
)

func SetupBlockRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	blockHandler := handler.GetBlockHandler()

	blocks := e.Group("/v1/blocks")
	blocks.Use(authMiddleware.Authenticate)

	blocks.GET("", blockHandler.GetBlockedUsers)
	blocks.POST("/:userId", blockHandler.BlockUser)
	blocks.DELETE("/:userId", blockHandler.UnblockUser)
}
