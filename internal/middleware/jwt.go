package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/kanggyeonggu/identity-service/internal/token"
)

// Context keys set by JWTAuth.
const (
	ctxUserID    = "user_id"
	ctxClaims    = "claims"
	bearerPrefix = "Bearer "
)

// JWTAuth validates the Bearer access token with the token service and stores
// the decimal identity id under "user_id" and the verified claims under
// "claims". Every verification failure is the same 401.
func JWTAuth(tokens *token.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := BearerToken(c.Request())
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			claims, err := tokens.Verify(raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			id, err := token.ExtractIdentityID(claims)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set(ctxUserID, strconv.FormatUint(id, 10))
			c.Set(ctxClaims, claims)
			return next(c)
		}
	}
}

// BearerToken returns the raw token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, bearerPrefix) {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(auth, bearerPrefix))
	return raw, raw != ""
}
