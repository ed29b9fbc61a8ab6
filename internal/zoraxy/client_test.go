package zoraxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser     = "admin"
	testPassword = "hunter2"
	metaToken    = "meta-token"
	cookieToken  = "cookie-token"
)

// fakeZoraxy emulates the login and whitelist endpoints of a Zoraxy admin API.
type fakeZoraxy struct {
	serveMeta   bool
	serveCookie bool

	// loginGate, when set, blocks the credentials POST until closed.
	loginGate chan struct{}

	loginPages atomic.Int32
	logins     atomic.Int32
	adds       atomic.Int32
	removes    atomic.Int32

	// rejectCalls makes the next N whitelist calls answer 401.
	rejectCalls atomic.Int32
	rejectAll   atomic.Bool
	addError    string

	// removeMissing answers the remove route with a plain 404, as a
	// build without that endpoint would.
	removeMissing bool

	mu       sync.Mutex
	session  string
	csrfSeen []string
	entries  map[string]string // id/ip -> comment
}

func newFakeZoraxy() *fakeZoraxy {
	return &fakeZoraxy{
		serveMeta:   true,
		serveCookie: true,
		entries:     make(map[string]string),
	}
}

func (f *fakeZoraxy) expectedToken() string {
	if f.serveMeta {
		return metaToken
	}
	return cookieToken
}

func (f *fakeZoraxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case loginPagePath:
		f.loginPages.Add(1)
		if f.serveCookie {
			http.SetCookie(w, &http.Cookie{Name: csrfCookieName, Value: cookieToken, Path: "/"})
		}
		w.Header().Set("Content-Type", "text/html")
		if f.serveMeta {
			fmt.Fprintf(w, `<html><head><meta name="zoraxy.csrf.Token" content="%s"></head><body></body></html>`, metaToken)
			return
		}
		fmt.Fprint(w, `<html><head><title>Login</title></head><body></body></html>`)

	case loginPath:
		if f.loginGate != nil {
			<-f.loginGate
		}
		n := f.logins.Add(1)
		f.mu.Lock()
		f.csrfSeen = append(f.csrfSeen, r.Header.Get("X-CSRF-Token"))
		f.mu.Unlock()
		if r.Header.Get("X-CSRF-Token") != f.expectedToken() ||
			r.Header.Get("X-Requested-With") != "XMLHttpRequest" ||
			r.FormValue("username") != testUser ||
			r.FormValue("password") != testPassword ||
			r.FormValue("rmbme") != "false" {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		sess := fmt.Sprintf("sess-%d", n)
		f.mu.Lock()
		f.session = sess
		f.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "Zoraxy", Value: sess, Path: "/"})
		fmt.Fprint(w, `"OK"`)

	case whitelistAddPath, whitelistRemovePath:
		adding := r.URL.Path == whitelistAddPath
		if adding {
			f.adds.Add(1)
		} else {
			f.removes.Add(1)
			if f.removeMissing {
				http.NotFound(w, r)
				return
			}
		}
		if f.rejectAll.Load() || f.rejectCalls.Add(-1) >= 0 || !f.authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		key := r.FormValue("id") + "/" + r.FormValue("ip")
		f.mu.Lock()
		defer f.mu.Unlock()
		if adding {
			if f.addError != "" {
				fmt.Fprintf(w, `{"error":%q}`, f.addError)
				return
			}
			f.entries[key] = r.FormValue("comment")
		} else {
			if _, ok := f.entries[key]; !ok {
				fmt.Fprint(w, `{"error":"IP not found in whitelist"}`)
				return
			}
			delete(f.entries, key)
		}
		fmt.Fprint(w, `"OK"`)

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeZoraxy) authorized(r *http.Request) bool {
	c, err := r.Cookie("Zoraxy")
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return c.Value == f.session && r.Header.Get("X-CSRF-Token") == f.expectedToken()
}

func newTestClient(t *testing.T, f *fakeZoraxy) (*Client, *prometheus.Registry) {
	t.Helper()
	f.rejectCalls.Store(0)
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	reg := prometheus.NewPedanticRegistry()
	c, err := New(Config{
		BaseURL:    srv.URL + "/",
		Username:   testUser,
		Password:   testPassword,
		Timeout:    2 * time.Second,
		Registerer: reg,
	})
	require.NoError(t, err)
	return c, reg
}

func TestNew_NotConfigured(t *testing.T) {
	for _, cfg := range []Config{
		{Username: "u", Password: "p"},
		{BaseURL: "http://zoraxy:8000", Password: "p"},
		{BaseURL: "http://zoraxy:8000", Username: "u"},
	} {
		_, err := New(cfg)
		assert.ErrorIs(t, err, ErrNotConfigured)
	}
}

func TestEnsureAuthenticated_LogsInOnceThenFastPath(t *testing.T) {
	f := newFakeZoraxy()
	c, reg := newTestClient(t, f)
	ctx := context.Background()

	require.NoError(t, c.EnsureAuthenticated(ctx))
	require.NoError(t, c.EnsureAuthenticated(ctx))

	n, err := testutil.GatherAndCount(reg, "zoraxy_logins_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, int32(1), f.loginPages.Load())
	assert.Equal(t, int32(1), f.logins.Load())

	info := c.Session().Debug()
	assert.True(t, info.Authenticated)
	assert.Equal(t, []string{"Zoraxy", csrfCookieName}, info.CookieNames)
	assert.True(t, info.HasCSRFCookieToken)

	state, _ := c.Session().Snapshot()
	assert.Equal(t, metaToken, state.CSRFToken, "meta marker wins over the cookie")
	assert.Equal(t, cookieToken, state.CSRFCookieToken)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.logins.WithLabelValues("success")))
}

func TestEnsureAuthenticated_SingleFlight(t *testing.T) {
	f := newFakeZoraxy()
	f.loginGate = make(chan struct{})
	c, _ := newTestClient(t, f)

	const callers = 20
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.EnsureAuthenticated(context.Background())
		}()
	}

	require.Eventually(t, func() bool { return f.loginPages.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(f.loginGate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.loginPages.Load())
	assert.Equal(t, int32(1), f.logins.Load())
}

func TestEnsureAuthenticated_CSRFCookieFallback(t *testing.T) {
	f := newFakeZoraxy()
	f.serveMeta = false
	c, _ := newTestClient(t, f)

	require.NoError(t, c.EnsureAuthenticated(context.Background()))

	state, _ := c.Session().Snapshot()
	assert.Equal(t, cookieToken, state.CSRFToken)
	f.mu.Lock()
	assert.Equal(t, []string{cookieToken}, f.csrfSeen)
	f.mu.Unlock()
}

func TestEnsureAuthenticated_MissingCSRF(t *testing.T) {
	f := newFakeZoraxy()
	f.serveMeta = false
	f.serveCookie = false
	c, _ := newTestClient(t, f)

	err := c.EnsureAuthenticated(context.Background())

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.ErrorIs(t, err, errMissingCSRF)
	assert.Equal(t, int32(0), f.logins.Load(), "credentials are never posted without a token")
}

func TestEnsureAuthenticated_FailureResetsSession(t *testing.T) {
	f := newFakeZoraxy()
	c, _ := newTestClient(t, f)
	c.password = "wrong"

	err := c.EnsureAuthenticated(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, statusOf(err))

	info := c.Session().Debug()
	assert.False(t, info.Authenticated)
	assert.Empty(t, info.CookieNames, "cookies from the login page must not survive a failed handshake")

	// The next caller starts from scratch.
	c.password = testPassword
	require.NoError(t, c.EnsureAuthenticated(context.Background()))
	assert.Equal(t, int32(2), f.logins.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.logins.WithLabelValues("failure")))
}

func TestEnsureAuthenticated_CancelledCallerDoesNotAbortLogin(t *testing.T) {
	f := newFakeZoraxy()
	f.loginGate = make(chan struct{})
	c, _ := newTestClient(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- c.EnsureAuthenticated(ctx) }()

	require.Eventually(t, func() bool { return f.loginPages.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() { second <- c.EnsureAuthenticated(context.Background()) }()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(f.loginGate)
	require.NoError(t, <-second)

	assert.True(t, c.Session().Debug().Authenticated)
	assert.Equal(t, int32(1), f.logins.Load())
}

func TestAddEntry(t *testing.T) {
	f := newFakeZoraxy()
	c, _ := newTestClient(t, f)

	require.NoError(t, c.AddEntry(context.Background(), "grpA", "203.0.113.7", "Added via LoginFirewall - 24h access"))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "Added via LoginFirewall - 24h access", f.entries["grpA/203.0.113.7"])
	assert.Equal(t, int32(1), f.adds.Load())
}

func TestAddEntry_RetriesOnceAfterSessionExpiry(t *testing.T) {
	f := newFakeZoraxy()
	c, _ := newTestClient(t, f)
	require.NoError(t, c.EnsureAuthenticated(context.Background()))
	f.rejectCalls.Store(1)

	require.NoError(t, c.AddEntry(context.Background(), "grpA", "203.0.113.7", "c"))

	assert.Equal(t, int32(2), f.logins.Load())
	assert.Equal(t, int32(2), f.adds.Load())
}

func TestAddEntry_SecondAuthFailureIsTerminal(t *testing.T) {
	f := newFakeZoraxy()
	f.rejectAll.Store(true)
	c, _ := newTestClient(t, f)

	err := c.AddEntry(context.Background(), "grpA", "203.0.113.7", "c")

	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "add", remoteErr.Op)
	assert.Equal(t, "grpA", remoteErr.Target)
	assert.Equal(t, http.StatusUnauthorized, remoteErr.Status)
	assert.Equal(t, int32(2), f.logins.Load())
	assert.Equal(t, int32(2), f.adds.Load(), "no third attempt")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.calls.WithLabelValues("add", "failure")))
}

func TestAddEntry_APIErrorIsNotRetried(t *testing.T) {
	f := newFakeZoraxy()
	f.addError = "invalid ip address"
	c, _ := newTestClient(t, f)

	err := c.AddEntry(context.Background(), "grpA", "not-an-ip", "c")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid ip address", apiErr.Message)
	assert.False(t, IsNotFound(err))
	assert.Equal(t, int32(1), f.adds.Load())
	assert.Equal(t, int32(1), f.logins.Load())
}

func TestAddEntry_LoginFailureSurfacesAuthError(t *testing.T) {
	f := newFakeZoraxy()
	c, _ := newTestClient(t, f)
	c.password = "wrong"

	err := c.AddEntry(context.Background(), "grpA", "203.0.113.7", "c")

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, int32(1), f.logins.Load(), "a rejected handshake is not retried")
	assert.Equal(t, int32(0), f.adds.Load())
}

func TestRemoveEntry(t *testing.T) {
	f := newFakeZoraxy()
	c, _ := newTestClient(t, f)
	ctx := context.Background()

	require.NoError(t, c.AddEntry(ctx, "grpA", "203.0.113.7", "c"))
	require.NoError(t, c.RemoveEntry(ctx, "grpA", "203.0.113.7"))

	err := c.RemoveEntry(ctx, "grpA", "203.0.113.7")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, int32(2), f.removes.Load())
}

func TestRemoveEntry_MissingRouteIsNotAbsence(t *testing.T) {
	f := newFakeZoraxy()
	f.removeMissing = true
	c, _ := newTestClient(t, f)

	err := c.RemoveEntry(context.Background(), "grpA", "203.0.113.7")

	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, http.StatusNotFound, remoteErr.Status)
	assert.False(t, IsNotFound(err), "a 404 does not confirm the IP is gone")
	assert.Equal(t, int32(1), f.removes.Load())
}

func TestSessionStore_InvalidateIgnoresStaleGeneration(t *testing.T) {
	s := NewSessionStore()
	stale := s.Replace(SessionState{Cookies: map[string]string{"Zoraxy": "old"}, CSRFToken: "t"})
	s.Replace(SessionState{Cookies: map[string]string{"Zoraxy": "new"}, CSRFToken: "t"})

	assert.False(t, s.Invalidate(stale))
	state, gen := s.Snapshot()
	assert.Equal(t, "new", state.Cookies["Zoraxy"])

	assert.True(t, s.Invalidate(gen))
	state, _ = s.Snapshot()
	assert.False(t, state.Authenticated())
}

func TestSessionState_CookieHeaderIsSorted(t *testing.T) {
	s := SessionState{Cookies: map[string]string{"b": "2", "a": "1", csrfCookieName: "x"}}
	assert.Equal(t, "a=1; b=2; zoraxy_csrf=x", s.CookieHeader())
	assert.Empty(t, SessionState{}.CookieHeader())
}

func TestExtractCSRFMeta(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"double quotes", `<meta name="zoraxy.csrf.Token" content="abc">`, "abc"},
		{"single quotes", `<meta name='zoraxy.csrf.Token' content='abc'>`, "abc"},
		{"upper case", `<META NAME="ZORAXY.CSRF.TOKEN" CONTENT="abc"/>`, "abc"},
		{"other meta first", `<meta charset="utf-8"><meta name="zoraxy.csrf.Token" content="xyz">`, "xyz"},
		{"absent", `<html><head><title>x</title></head></html>`, ""},
		{"empty content", `<meta name="zoraxy.csrf.Token" content="">`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractCSRFMeta(strings.NewReader(tt.html)))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&RemoteError{Cause: &APIError{Message: "IP not found in whitelist"}}))
	assert.True(t, IsNotFound(&APIError{Message: "Rule does not exist"}))
	assert.False(t, IsNotFound(&RemoteError{Cause: &StatusError{Status: http.StatusNotFound}}))
	assert.False(t, IsNotFound(&APIError{Message: "IP not in a valid format"}))
	assert.False(t, IsNotFound(&StatusError{Status: http.StatusInternalServerError}))
	assert.False(t, IsNotFound(errors.New("boom")))
}
