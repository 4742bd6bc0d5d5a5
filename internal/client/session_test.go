package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
	refreshBody  string
	refreshCode  int
	entered      chan struct{}
	release      chan struct{}
	validToken   string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/auth/refresh":
		f.refreshCalls.Add(1)
		if f.entered != nil {
			f.entered <- struct{}{}
			<-f.release
		}
		if _, err := r.Cookie("refresh_token"); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		code := f.refreshCode
		if code == 0 {
			code = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = io.WriteString(w, f.refreshBody)
	case "/api/auth/logout":
		f.logoutCalls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	case "/api/users/me":
		if r.Header.Get("Authorization") != "Bearer "+f.validToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(append([]byte("me:"), body...))
	default:
		http.NotFound(w, r)
	}
}

func newTestController(t *testing.T, api *fakeAPI) *SessionController {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	c, err := NewSessionController(srv.URL)
	require.NoError(t, err)
	u, err := url.Parse(srv.URL + "/api/auth")
	require.NoError(t, err)
	c.Jar().SetCookies(u, []*http.Cookie{{Name: "refresh_token", Value: "raw", Path: "/api/auth"}})
	return c
}

func TestSessionController_TokenState(t *testing.T) {
	c, err := NewSessionController("http://localhost")
	require.NoError(t, err)

	assert.False(t, c.IsAuthenticated())
	c.SetToken("abc")
	assert.True(t, c.IsAuthenticated())
	assert.Equal(t, "abc", c.Token())
	c.ClearToken()
	assert.False(t, c.IsAuthenticated())
}

func TestSessionController_RefreshSuccess(t *testing.T) {
	api := &fakeAPI{refreshBody: `{"success":true,"accessToken":"new-token"}`}
	c := newTestController(t, api)

	assert.True(t, c.Refresh(context.Background()))
	assert.Equal(t, "new-token", c.Token())
	assert.Equal(t, int32(1), api.refreshCalls.Load())
}

func TestSessionController_RefreshFailuresLeaveStateUnchanged(t *testing.T) {
	cases := map[string]*fakeAPI{
		"non-2xx":        {refreshCode: http.StatusUnauthorized, refreshBody: `{"success":false}`},
		"malformed":      {refreshBody: `{nope`},
		"success false":  {refreshBody: `{"success":false,"accessToken":"x"}`},
		"empty token":    {refreshBody: `{"success":true,"accessToken":""}`},
		"server problem": {refreshCode: http.StatusInternalServerError},
	}
	for name, api := range cases {
		t.Run(name, func(t *testing.T) {
			c := newTestController(t, api)
			c.SetToken("old")

			assert.False(t, c.Refresh(context.Background()))
			assert.Equal(t, "old", c.Token())
			assert.Equal(t, int32(1), api.refreshCalls.Load(), "no retry loop")
			// the guard is released on failure
			assert.False(t, c.refreshing.Load())
		})
	}
}

func TestSessionController_RefreshNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c, err := NewSessionController(srv.URL)
	require.NoError(t, err)

	assert.False(t, c.Refresh(context.Background()))
	assert.False(t, c.IsAuthenticated())
}

func TestSessionController_ConcurrentRefreshIsDeduplicated(t *testing.T) {
	api := &fakeAPI{
		refreshBody: `{"success":true,"accessToken":"new-token"}`,
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	c := newTestController(t, api)

	first := make(chan bool, 1)
	go func() { first <- c.Refresh(context.Background()) }()

	select {
	case <-api.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first refresh never reached the server")
	}

	assert.False(t, c.Refresh(context.Background()))
	assert.Equal(t, int32(1), api.refreshCalls.Load())

	close(api.release)
	assert.True(t, <-first)
	assert.Equal(t, "new-token", c.Token())
	assert.Equal(t, int32(1), api.refreshCalls.Load())
}

func TestSessionController_Logout(t *testing.T) {
	api := &fakeAPI{}
	c := newTestController(t, api)
	c.SetToken("abc")

	require.NoError(t, c.Logout(context.Background()))
	assert.False(t, c.IsAuthenticated())
	assert.Equal(t, int32(1), api.logoutCalls.Load())
}

func TestSessionController_LogoutClearsEvenOnError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c, err := NewSessionController(srv.URL)
	require.NoError(t, err)
	c.SetToken("abc")

	assert.Error(t, c.Logout(context.Background()))
	assert.False(t, c.IsAuthenticated())
}

func TestSessionController_DoRefreshesOnceAndReplays(t *testing.T) {
	api := &fakeAPI{
		refreshBody: `{"success":true,"accessToken":"fresh"}`,
		validToken:  "fresh",
	}
	c := newTestController(t, api)
	c.SetToken("stale")

	req, err := http.NewRequest(http.MethodPost, c.base+"/api/users/me", strings.NewReader("hello"))
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "me:hello", string(body))
	assert.Equal(t, int32(1), api.refreshCalls.Load())
	assert.Equal(t, "fresh", c.Token())
}

func TestSessionController_DoClearsTokenWhenRefreshFails(t *testing.T) {
	api := &fakeAPI{refreshCode: http.StatusUnauthorized, validToken: "never"}
	c := newTestController(t, api)
	c.SetToken("stale")

	req, err := http.NewRequest(http.MethodGet, c.base+"/api/users/me", nil)
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, c.IsAuthenticated())
	assert.Equal(t, int32(1), api.refreshCalls.Load())
}
