package middleware

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"

	"tradeup/pkg/errors"
	"tradeup/pkg/response"
)

// TokenVerifier resolves an ID token to the caller's uid.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
}

func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return response.Error(c, errors.Unauthorized("Authorization header is required", nil))
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return response.Error(c, errors.Unauthorized("Invalid authorization format", nil))
		}

		return m.authenticate(c, next, parts[1])
	}
}

// AuthenticateWebSocket also accepts the token as a "token" query parameter,
// since browsers cannot set headers on a websocket handshake.
func (m *AuthMiddleware) AuthenticateWebSocket(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if token := c.QueryParam("token"); token != "" {
			return m.authenticate(c, next, token)
		}
		return m.Authenticate(next)(c)
	}
}

func (m *AuthMiddleware) authenticate(c echo.Context, next echo.HandlerFunc, idToken string) error {
	uid, err := m.verifier.VerifyToken(c.Request().Context(), idToken)
	if err != nil || uid == "" {
		return response.Error(c, errors.Unauthorized("Invalid or expired token", err))
	}

	c.Set("uid", uid)
	return next(c)
}
