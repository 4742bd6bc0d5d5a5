package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/kanggyeonggu/identity-service/internal/config"
	"github.com/kanggyeonggu/identity-service/internal/logger"
	"github.com/kanggyeonggu/identity-service/internal/middleware"
	"github.com/kanggyeonggu/identity-service/internal/model"
	"github.com/kanggyeonggu/identity-service/internal/repository"
	"github.com/kanggyeonggu/identity-service/internal/service"
	"github.com/kanggyeonggu/identity-service/internal/token"
	"github.com/kanggyeonggu/identity-service/internal/utils"
)

// RefreshCookieName and RefreshCookiePath scope the refresh credential to the
// auth endpoints; the cookie is never readable by page scripts.
const (
	RefreshCookieName = "refresh_token"
	RefreshCookiePath = "/api/auth"
)

const requestTimeout = 5 * time.Second

// AuthHandler bundles dependencies for the auth endpoints.
type AuthHandler struct {
	Sessions     *service.SessionService
	Tokens       *token.Service
	Providers    map[model.Provider]config.ProviderConfig
	CookieSecure bool
	Log          *slog.Logger
}

func NewAuthHandler(cfg config.Config, sessions *service.SessionService, tokens *token.Service, log *slog.Logger) *AuthHandler {
	return &AuthHandler{
		Sessions: sessions,
		Tokens:   tokens,
		Providers: map[model.Provider]config.ProviderConfig{
			model.ProviderKakao:  cfg.Kakao,
			model.ProviderNaver:  cfg.Naver,
			model.ProviderGoogle: cfg.Google,
		},
		CookieSecure: cfg.CookieSecure,
		Log:          logger.OrDiscard(log),
	}
}

// ----- DTOs -----

type completeReq struct {
	ProviderID  string  `json:"providerId"`
	DisplayName string  `json:"displayName"`
	AvatarURL   *string `json:"avatarUrl"`
}

type tokenResp struct {
	Success     bool   `json:"success"`
	AccessToken string `json:"accessToken"`
}

type failureResp struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// LoginURL answers POST /auth/:provider/login with the provider's
// authorization URL. The code exchange happens upstream.
func (h *AuthHandler) LoginURL(c echo.Context) error {
	p, err := model.ParseProvider(c.Param("provider"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, failureResp{Message: "unknown provider"})
	}
	pc := h.Providers[p]
	if !pc.Configured() {
		return c.JSON(http.StatusServiceUnavailable, failureResp{Message: p.Title() + " login is not configured"})
	}
	state, err := utils.RandomHex(16)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, failureResp{Message: p.Title() + " login failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":          true,
		"authorizationUrl": authorizationURL(pc, state),
		"state":            state,
	})
}

func authorizationURL(pc config.ProviderConfig, state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", pc.ClientID)
	q.Set("redirect_uri", pc.RedirectURI)
	q.Set("state", state)
	if len(pc.Scopes) > 0 {
		q.Set("scope", strings.Join(pc.Scopes, " "))
	}
	sep := "?"
	if strings.Contains(pc.AuthorizeURL, "?") {
		sep = "&"
	}
	return pc.AuthorizeURL + sep + q.Encode()
}

// CompleteLogin answers POST /api/auth/:provider/complete. The trusted
// upstream posts the provider profile once its OAuth exchange succeeded.
func (h *AuthHandler) CompleteLogin(c echo.Context) error {
	p, err := model.ParseProvider(c.Param("provider"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, failureResp{Message: "unknown provider"})
	}
	failed := failureResp{Message: p.Title() + " login failed"}

	var req completeReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, failed)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	res, err := h.Sessions.Login(ctx, service.LoginRequest{
		Provider:    p,
		ProviderID:  strings.TrimSpace(req.ProviderID),
		DisplayName: strings.TrimSpace(req.DisplayName),
		AvatarURL:   req.AvatarURL,
	})
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidLogin):
		return c.JSON(http.StatusBadRequest, failed)
	case errors.Is(err, service.ErrIdentityDisabled):
		return c.JSON(http.StatusForbidden, failed)
	case errors.Is(err, repository.ErrStoreUnavailable):
		return c.JSON(http.StatusServiceUnavailable, failed)
	default:
		return c.JSON(http.StatusBadGateway, failed)
	}

	h.setRefreshCookie(c, res.Refresh)
	return c.JSON(http.StatusOK, tokenResp{Success: true, AccessToken: res.AccessToken.Token})
}

// Refresh answers POST /api/auth/refresh using the refresh cookie.
func (h *AuthHandler) Refresh(c echo.Context) error {
	raw := refreshCookie(c)
	if raw == "" {
		return c.JSON(http.StatusUnauthorized, failureResp{Message: "refresh failed"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	res, err := h.Sessions.Refresh(ctx, raw)
	if err != nil {
		if errors.Is(err, service.ErrRefreshInvalid) {
			h.clearRefreshCookie(c)
			return c.JSON(http.StatusUnauthorized, failureResp{Message: "refresh failed"})
		}
		h.Log.ErrorContext(ctx, "refresh failed", "error", err)
		return c.JSON(statusFor(err), failureResp{Message: "refresh failed"})
	}
	if res.Refresh.Raw != "" {
		h.setRefreshCookie(c, res.Refresh)
	}
	return c.JSON(http.StatusOK, tokenResp{Success: true, AccessToken: res.AccessToken.Token})
}

// Logout answers POST /api/auth/logout. The refresh cookie, when present, is
// revoked. Without one, a valid bearer token logs the identity out of every
// device. The cookie is expired either way.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	h.clearRefreshCookie(c)
	if raw := refreshCookie(c); raw != "" {
		if err := h.Sessions.Logout(ctx, raw); err != nil {
			h.Log.ErrorContext(ctx, "logout failed", "error", err)
			return c.JSON(statusFor(err), echo.Map{"error": "logout failed"})
		}
		return c.NoContent(http.StatusNoContent)
	}
	if bearer, ok := middleware.BearerToken(c.Request()); ok {
		id, err := h.Tokens.IdentityIDFromToken(bearer)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
		}
		if err := h.Sessions.LogoutAll(ctx, id); err != nil {
			h.Log.ErrorContext(ctx, "logout all failed", "identity_id", id, "error", err)
			return c.JSON(statusFor(err), echo.Map{"error": "logout failed"})
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func refreshCookie(c echo.Context) string {
	ck, err := c.Cookie(RefreshCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(ck.Value)
}

func (h *AuthHandler) setRefreshCookie(c echo.Context, rt utils.RefreshToken) {
	c.SetCookie(&http.Cookie{
		Name:     RefreshCookieName,
		Value:    rt.Raw,
		Path:     RefreshCookiePath,
		Expires:  rt.Exp,
		MaxAge:   int(time.Until(rt.Exp).Seconds()),
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     RefreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}
