package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanggyeonggu/identity-service/internal/config"
	"github.com/kanggyeonggu/identity-service/internal/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	tokens, err := token.NewService(testSecret, time.Hour)
	require.NoError(t, err)
	other, err := token.NewService("ffffffffffffffffffffffffffffffff", time.Hour)
	require.NoError(t, err)

	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		id, ok := IdentityID(c)
		require.True(t, ok)
		return c.JSON(http.StatusOK, echo.Map{"id": id, "name": Claims(c).DisplayName})
	}, JWTAuth(tokens))

	good, err := tokens.Issue(7, "Kang")
	require.NoError(t, err)
	forged, err := other.Issue(7, "Kang")
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + good.Token, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"foreign key", "Bearer " + forged.Token, http.StatusUnauthorized},
		{"garbage", "Bearer a.b.c", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := serve(e, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.JSONEq(t, `{"id":7,"name":"Kang"}`, rec.Body.String())
			}
		})
	}
}

func TestIdentityID_Absent(t *testing.T) {
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	_, ok := IdentityID(c)
	assert.False(t, ok)
	assert.Nil(t, Claims(c))
	assert.Equal(t, "anon", currentUserID(c))
}

func TestInternalAuth(t *testing.T) {
	e := echo.New()
	e.POST("/internal", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, InternalAuth("s3cret"))

	req := httptest.NewRequest(http.MethodPost, "/internal", nil)
	assert.Equal(t, http.StatusForbidden, serve(e, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/internal", nil)
	req.Header.Set(InternalAuthHeader, "wrong")
	assert.Equal(t, http.StatusForbidden, serve(e, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/internal", nil)
	req.Header.Set(InternalAuthHeader, "s3cret")
	assert.Equal(t, http.StatusNoContent, serve(e, req).Code)
}

func TestInternalAuth_EmptySecretRejectsAll(t *testing.T) {
	e := echo.New()
	e.POST("/internal", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, InternalAuth(""))

	req := httptest.NewRequest(http.MethodPost, "/internal", nil)
	assert.Equal(t, http.StatusForbidden, serve(e, req).Code)
}

func newLimited(t *testing.T, rdb *redis.Client, capacity int) *echo.Echo {
	t.Helper()
	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       capacity,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            5 * time.Hour,
		KeyStrategy:    "ip_route",
		Prefix:         "rl",
	}
	e := echo.New()
	e.Use(NewTokenBucket(cfg, rdb, nil))
	e.POST("/api/auth/refresh", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	return e
}

func TestTokenBucket_BlocksAfterCapacity(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	e := newLimited(t, rdb, 2)
	for i := 0; i < 2; i++ {
		rec := serve(e, httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := serve(e, httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestTokenBucket_FailsOpen(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	e := newLimited(t, rdb, 1)
	for i := 0; i < 3; i++ {
		rec := serve(e, httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestTokenBucket_DisabledPassesThrough(t *testing.T) {
	e := echo.New()
	e.Use(NewTokenBucket(config.RateLimitConfig{Enabled: false}, nil, nil))
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/api/auth/refresh")
	c.Set(ctxUserID, "42")

	cfg := config.RateLimitConfig{Prefix: "rl"}
	for strategy, want := range map[string]string{
		"ip":       "rl:ip:10.0.0.1",
		"user":     "rl:user:42",
		"ip_route": "rl:ip:10.0.0.1:route:POST /api/auth/refresh",
		"":         "rl:ip:10.0.0.1:user:42:route:POST /api/auth/refresh",
	} {
		cfg.KeyStrategy = strategy
		assert.Equal(t, want, buildRateKey(cfg, c), strategy)
	}
}
