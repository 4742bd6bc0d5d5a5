package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// InternalAuthHeader carries the shared secret of trusted upstream callers
// (the OAuth handshake service and the admin console).
const InternalAuthHeader = "X-Internal-Auth"

// InternalAuth only lets through requests that present the shared secret.
func InternalAuth(secret string) echo.MiddlewareFunc {
	want := []byte(secret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := []byte(c.Request().Header.Get(InternalAuthHeader))
			if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
