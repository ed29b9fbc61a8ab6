// Package zoraxy is a session-authenticated client for the Zoraxy reverse
// proxy's admin API. It keeps one logical login session per process,
// collapses concurrent logins into a single handshake, and re-authenticates
// once when the remote side rejects the session.
package zoraxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTimeout bounds each remote HTTP call.
	DefaultTimeout = 10 * time.Second

	loginPagePath = "/login.html"
	loginPath     = "/api/auth/login"

	userAgent = "Mozilla/5.0 (compatible; LoginFirewall)"

	// maxResponseBytes caps how much of any response body is buffered.
	maxResponseBytes = 1 << 20
)

// Config holds the connection settings for a Client.
type Config struct {
	BaseURL  string
	Username string
	Password string

	// Timeout is applied to every individual remote call. Defaults to
	// DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the transport. Its own Timeout is left alone.
	HTTPClient *http.Client

	// Registerer receives the client's metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
}

// Client talks to one Zoraxy instance. It is safe for concurrent use.
type Client struct {
	baseURL  string
	username string
	password string
	timeout  time.Duration
	http     *http.Client

	store   *SessionStore
	logins  singleflight.Group
	metrics *clientMetrics
}

// New validates cfg and returns a Client with an empty session. It returns
// ErrNotConfigured when the URL or either credential is blank.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, ErrNotConfigured
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("zoraxy: invalid api url %q: %w", base, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	return &Client{
		baseURL:  base,
		username: cfg.Username,
		password: cfg.Password,
		timeout:  timeout,
		http:     hc,
		store:    NewSessionStore(),
		metrics:  newClientMetrics(cfg.Registerer),
	}, nil
}

// Session exposes the session store for diagnostics.
func (c *Client) Session() *SessionStore {
	return c.store
}

// Reset drops the current session. The next call logs in again.
func (c *Client) Reset() {
	c.store.Reset()
}

// EnsureAuthenticated returns once the session holds cookies and a CSRF
// token. When the state already looks authenticated it returns immediately
// without contacting the server. Otherwise it joins the in-flight login or
// starts one.
//
// The login itself runs detached from ctx: a caller that gives up stops
// waiting, but the handshake continues for everyone else sharing it.
func (c *Client) EnsureAuthenticated(ctx context.Context) error {
	if state, _ := c.store.Snapshot(); state.Authenticated() {
		return nil
	}

	ch := c.logins.DoChan("login", func() (any, error) {
		// Another caller may have finished a login between our snapshot
		// and acquiring the flight.
		if state, _ := c.store.Snapshot(); state.Authenticated() {
			return nil, nil
		}
		return nil, c.login(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

// login performs the two-step handshake and publishes the resulting state.
// On any failure the store is cleared and the error is wrapped in AuthError.
func (c *Client) login(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.observeLogin(err, time.Since(start))
		if err != nil {
			c.store.Reset()
			slog.Warn("zoraxy login failed",
				slog.String("url", c.baseURL),
				slog.Any("error", err),
			)
			err = &AuthError{Cause: err}
		}
	}()

	var state SessionState

	// Step 1: fetch the login page for a fresh CSRF token and cookies.
	req, err := http.NewRequest(http.MethodGet, c.baseURL+loginPagePath, nil)
	if err != nil {
		return fmt.Errorf("building login page request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html")

	page, err := c.send(ctx, req)
	if err != nil {
		return fmt.Errorf("fetching login page: %w", err)
	}
	if err := page.err(); err != nil {
		return fmt.Errorf("fetching login page: %w", err)
	}
	state.mergeCookies(page.cookies)

	state.CSRFToken = extractCSRFMeta(bytes.NewReader(page.body))
	if state.CSRFToken == "" {
		state.CSRFToken = state.CSRFCookieToken
	}
	if state.CSRFToken == "" {
		return errMissingCSRF
	}

	// Step 2: submit credentials with the cookies and token from step 1.
	form := url.Values{
		"username": {c.username},
		"password": {c.password},
		"rmbme":    {"false"},
	}
	req, err = c.newFormRequest(loginPath, form, state)
	if err != nil {
		return fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Referer", c.baseURL+loginPagePath)

	res, err := c.send(ctx, req)
	if err != nil {
		return fmt.Errorf("submitting credentials: %w", err)
	}
	if err := res.err(); err != nil {
		return fmt.Errorf("submitting credentials: %w", err)
	}
	state.mergeCookies(res.cookies)

	if len(state.Cookies) == 0 {
		return fmt.Errorf("login response did not establish a session cookie")
	}

	gen := c.store.Replace(state)
	slog.Info("zoraxy login succeeded",
		slog.String("url", c.baseURL),
		slog.Any("cookies", c.store.Debug().CookieNames),
		slog.Uint64("generation", gen),
	)
	return nil
}

// newFormRequest builds an authenticated, form-encoded POST carrying the
// session's cookies and CSRF token.
func (c *Client) newFormRequest(path string, form url.Values, state SessionState) (*http.Request, error) {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("X-CSRF-Token", state.CSRFToken)
	if cookie := state.CookieHeader(); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	return req, nil
}

// response is a fully buffered remote reply.
type response struct {
	status  int
	cookies []*http.Cookie
	body    []byte
}

// send issues req under the per-call timeout and buffers the body.
func (c *Client) send(ctx context.Context, req *http.Request) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return &response{
		status:  resp.StatusCode,
		cookies: resp.Cookies(),
		body:    body,
	}, nil
}

// err classifies the reply: non-2xx becomes StatusError, a 2xx JSON object
// with an "error" field becomes APIError.
func (r *response) err() error {
	if r.status < 200 || r.status >= 300 {
		return &StatusError{Status: r.status, Body: snippet(r.body)}
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(r.body, &payload) == nil && payload.Error != "" {
		return &APIError{Message: payload.Error}
	}
	return nil
}

// snippet trims a response body for inclusion in error messages.
func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
