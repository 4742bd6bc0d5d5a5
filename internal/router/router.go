// Package router registers the HTTP routes of the identity service.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/kanggyeonggu/identity-service/internal/handler"
	"github.com/kanggyeonggu/identity-service/internal/middleware"
	"github.com/kanggyeonggu/identity-service/internal/token"
)

// RegisterRoutes registers routes that need no authentication.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health(db))
}

// RegisterAuth registers the login, refresh and logout endpoints. limiter
// guards both groups; internalSecret protects the login completion callback
// that only the OAuth gateway may call.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, limiter echo.MiddlewareFunc, internalSecret string) {
	// browser-facing: start the provider redirect
	g := e.Group("/auth", limiter)
	g.POST("/:provider/login", a.LoginURL)

	api := e.Group("/api/auth", limiter)
	api.POST("/:provider/complete", a.CompleteLogin, middleware.InternalAuth(internalSecret))
	api.POST("/refresh", a.Refresh)
	api.POST("/logout", a.Logout)
}

// RegisterUsers registers identity lookups (JWT) and the admin endpoints
// (internal secret).
func RegisterUsers(e *echo.Echo, u *handler.UserHandler, tokens *token.Service, internalSecret string) {
	users := e.Group("/api/users", middleware.JWTAuth(tokens))
	users.GET("/me", u.Me)
	users.GET("/:id", u.GetUser)

	admin := e.Group("/api/admin", middleware.InternalAuth(internalSecret))
	admin.GET("/users/:id", u.AdminGetUser)
	admin.DELETE("/users/:id", u.AdminDeleteUser)
}
