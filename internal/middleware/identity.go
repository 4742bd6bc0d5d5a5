package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/kanggyeonggu/identity-service/internal/token"
)

// IdentityID returns the authenticated identity id stored by JWTAuth.
func IdentityID(c echo.Context) (uint64, bool) {
	s, ok := c.Get(ctxUserID).(string)
	if !ok || s == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Claims returns the verified claims stored by JWTAuth, or nil.
func Claims(c echo.Context) *token.Claims {
	cl, _ := c.Get(ctxClaims).(*token.Claims)
	return cl
}

// currentUserID is used for rate-limit keys; unauthenticated callers are "anon".
func currentUserID(c echo.Context) string {
	if s, ok := c.Get(ctxUserID).(string); ok && s != "" {
		return s
	}
	return "anon"
}
