package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/kanggyeonggu/identity-service/internal/logger"
	"github.com/kanggyeonggu/identity-service/internal/middleware"
	"github.com/kanggyeonggu/identity-service/internal/repository"
	"github.com/kanggyeonggu/identity-service/internal/service"
)

// UserHandler serves identity lookups and administrative deletes.
type UserHandler struct {
	Sessions *service.SessionService
	Log      *slog.Logger
}

func NewUserHandler(sessions *service.SessionService, log *slog.Logger) *UserHandler {
	return &UserHandler{Sessions: sessions, Log: logger.OrDiscard(log)}
}

// Me returns the caller's own identity.
func (h *UserHandler) Me(c echo.Context) error {
	id, ok := middleware.IdentityID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	return h.writeLive(c, id)
}

// GetUser returns an identity by id. Callers may only read their own record.
func (h *UserHandler) GetUser(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}
	self, ok := middleware.IdentityID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if self != id {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	return h.writeLive(c, id)
}

// AdminGetUser returns any identity, soft-deleted ones included.
func (h *UserHandler) AdminGetUser(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	ident, err := h.Sessions.GetUser(ctx, id)
	if err != nil {
		return h.fail(c, "get user", id, err)
	}
	return c.JSON(http.StatusOK, ident)
}

// AdminDeleteUser soft-deletes an identity and ends its sessions.
func (h *UserHandler) AdminDeleteUser(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	if err := h.Sessions.DeleteUser(ctx, id); err != nil {
		return h.fail(c, "delete user", id, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *UserHandler) writeLive(c echo.Context, id uint64) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	ident, err := h.Sessions.GetUser(ctx, id)
	if err != nil {
		return h.fail(c, "get user", id, err)
	}
	if ident.Deleted {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}
	return c.JSON(http.StatusOK, ident)
}

func (h *UserHandler) fail(c echo.Context, op string, id uint64, err error) error {
	status := statusFor(err)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(status, echo.Map{"error": "user not found"})
	}
	h.Log.ErrorContext(c.Request().Context(), op+" failed", "identity_id", id, "error", err)
	return c.JSON(status, echo.Map{"error": op + " failed"})
}
