package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"tradeup/internal/adapter/api/middleware"
	"tradeup/internal/infrastructure/ratelimit"
)

func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter, gatherer prometheus.Gatherer) {
	SetupConversationRouter(e, authMiddleware, limiter)
	SetupMessageRouter(e, authMiddleware)
	SetupOfferRouter(e, authMiddleware, limiter)
	SetupBlockRouter(e, authMiddleware)
	SetupWebSocketRouter(e, authMiddleware)
	SetupHealthRouter(e, gatherer)
}
