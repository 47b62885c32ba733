package router

import (
	"github.com/labstack/echo/v4"

	"tradeup/internal/adapter/api/handler"
	"tradeup/internal/adapter/api/middleware"
	"tradeup/internal/infrastructure/ratelimit"
)

func SetupOfferRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	offerHandler := handler.GetOfferHandler()

	offers := e.Group("/v1/offers")
	offers.Use(authMiddleware.Authenticate)

	offers.POST("", offerHandler.CreateOffer, middleware.RateLimit(limiter, ratelimit.ActionCreateOffer))
	offers.GET("", offerHandler.ListOffers)
	offers.GET("/:id", offerHandler.GetOffer)
	offers.POST("/:id/respond", offerHandler.RespondToOffer)
	offers.GET("/:id/chain", offerHandler.GetOfferChain)
}
