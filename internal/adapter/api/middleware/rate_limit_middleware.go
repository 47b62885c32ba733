package middleware

import (
	"fmt"
	"math"

	"github.com/labstack/echo/v4"

	"tradeup/internal/infrastructure/ratelimit"
	"tradeup/pkg/errors"
	"tradeup/pkg/logger"
	"tradeup/pkg/response"
)

// RateLimit limits an action per authenticated user, falling back to the
// client IP for anonymous requests.
func RateLimit(limiter *ratelimit.RateLimiter, action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key, ok := c.Get("uid").(string)
			if !ok || key == "" {
				key = "ip:" + c.RealIP()
			}

			allowed, wait := limiter.Allow(key, action)
			if !allowed {
				retryAfter := int(math.Ceil(wait.Seconds()))
				logger.Warn("RATE LIMIT: %s exceeded %s (retry in %ds)", key, action, retryAfter)
				c.Response().Header().Set("Retry-After", fmt.Sprint(retryAfter))
				return response.Error(c, errors.TooManyRequests(
					fmt.Sprintf("Too many %s requests, retry in %d seconds", action, retryAfter)))
			}

			return next(c)
		}
	}
}
