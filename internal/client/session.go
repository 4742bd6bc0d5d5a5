// Package client holds the caller-side half of a session: the access token in
// memory and a deduplicated silent refresh driven by the refresh cookie.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/net/publicsuffix"

	"github.com/kanggyeonggu/identity-service/internal/logger"
)

// ErrNotReplayable is returned by Do when a 401 response would need a replay
// but the request body cannot be rewound.
var ErrNotReplayable = errors.New("request body cannot be replayed")

type tokenResponse struct {
	Success     bool   `json:"success"`
	AccessToken string `json:"accessToken"`
}

// SessionController owns one access token. It is built once per process and
// handed to whatever needs authenticated calls.
type SessionController struct {
	base string
	hc   *http.Client
	log  *slog.Logger

	mu    sync.RWMutex
	token string

	refreshing atomic.Bool
}

// Option customises a SessionController.
type Option func(*SessionController)

// WithHTTPClient replaces the transport. The client should carry a cookie jar
// holding the refresh cookie.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *SessionController) { c.hc = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *SessionController) { c.log = l }
}

// NewSessionController returns a controller for the API at baseURL with an
// empty token and a fresh cookie jar.
func NewSessionController(baseURL string, opts ...Option) (*SessionController, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	c := &SessionController{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Jar: jar},
	}
	for _, o := range opts {
		o(c)
	}
	c.log = logger.OrDiscard(c.log)
	return c, nil
}

// Jar exposes the cookie jar so callers can seed the refresh cookie.
func (c *SessionController) Jar() http.CookieJar { return c.hc.Jar }

func (c *SessionController) SetToken(tok string) {
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
}

func (c *SessionController) ClearToken() { c.SetToken("") }

func (c *SessionController) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *SessionController) IsAuthenticated() bool { return c.Token() != "" }

// Refresh asks the server for a new access token using the refresh cookie.
// A call made while another refresh is in flight returns false at once and
// sends nothing; the in-flight call updates the token for everyone.
func (c *SessionController) Refresh(ctx context.Context) bool {
	if !c.refreshing.CompareAndSwap(false, true) {
		return false
	}
	defer c.refreshing.Store(false)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/auth/refresh", nil)
	if err != nil {
		c.log.WarnContext(ctx, "refresh request build failed", "error", err)
		return false
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.WarnContext(ctx, "refresh request failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.InfoContext(ctx, "refresh rejected", "status", resp.StatusCode)
		return false
	}
	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || !body.Success || body.AccessToken == "" {
		c.log.WarnContext(ctx, "refresh response malformed")
		return false
	}
	c.SetToken(body.AccessToken)
	return true
}

// Logout revokes the refresh credential server-side and always forgets the
// local token.
func (c *SessionController) Logout(ctx context.Context) error {
	defer c.ClearToken()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/auth/logout", nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("logout: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Do sends req with the current bearer token. A 401 triggers one refresh and
// one replay; if no newer token is available afterwards the token is cleared
// and the 401 response is returned to the caller.
func (c *SessionController) Do(req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.GetBody == nil {
		// buffer once so the request can be sent twice
		data, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(data))
		req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil }
	}

	sent := c.Token()
	resp, err := c.send(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	// another caller may have refreshed while this request was out
	if !c.Refresh(req.Context()) && !c.tokenChangedFrom(sent) {
		c.clearIfUnchanged(sent)
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, ErrNotReplayable
		}
		retry.Body = body
	}
	return c.send(retry)
}

func (c *SessionController) tokenChangedFrom(tok string) bool {
	cur := c.Token()
	return cur != "" && cur != tok
}

func (c *SessionController) clearIfUnchanged(tok string) {
	c.mu.Lock()
	if c.token == tok {
		c.token = ""
	}
	c.mu.Unlock()
}

func (c *SessionController) send(req *http.Request) (*http.Response, error) {
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	} else {
		req.Header.Del("Authorization")
	}
	return c.hc.Do(req)
}
