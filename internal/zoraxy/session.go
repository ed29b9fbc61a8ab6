package zoraxy

import (
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
)

// csrfCookieName is the cookie Zoraxy uses for its double-submit CSRF token.
const csrfCookieName = "zoraxy_csrf"

// SessionState is one logical login session against the remote API. Values
// are immutable once published by SessionStore; mutate a clone.
type SessionState struct {
	Cookies         map[string]string
	CSRFToken       string
	CSRFCookieToken string
}

// Authenticated reports whether the state carries both cookies and a CSRF
// token. It is not validated against the remote server.
func (s SessionState) Authenticated() bool {
	return len(s.Cookies) > 0 && s.CSRFToken != ""
}

// CookieHeader renders the jar as a Cookie request header value. Names are
// sorted so the header is deterministic.
func (s SessionState) CookieHeader() string {
	if len(s.Cookies) == 0 {
		return ""
	}
	names := slices.Sorted(maps.Keys(s.Cookies))
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+s.Cookies[name])
	}
	return strings.Join(parts, "; ")
}

// mergeCookies folds Set-Cookie values into the jar. A zoraxy_csrf cookie
// also refreshes CSRFCookieToken but never the active CSRFToken.
func (s *SessionState) mergeCookies(cookies []*http.Cookie) {
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		if s.Cookies == nil {
			s.Cookies = make(map[string]string)
		}
		s.Cookies[c.Name] = c.Value
		if c.Name == csrfCookieName {
			s.CSRFCookieToken = c.Value
		}
	}
}

// DebugInfo is a redacted view of the session for operators. It never
// includes cookie values or tokens.
type DebugInfo struct {
	CookieNames        []string `json:"cookie_names" yaml:"cookie_names"`
	HasCSRFToken       bool     `json:"has_csrf_token" yaml:"has_csrf_token"`
	HasCSRFCookieToken bool     `json:"has_csrf_cookie_token" yaml:"has_csrf_cookie_token"`
	Authenticated      bool     `json:"authenticated" yaml:"authenticated"`
	Generation         uint64   `json:"generation" yaml:"generation"`
}

// SessionStore owns the process-wide SessionState. Every read returns a
// snapshot and every write replaces the whole state, so readers never see
// a mix of two logins.
type SessionStore struct {
	mu    sync.RWMutex
	state SessionState
	gen   uint64
}

// NewSessionStore returns an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{}
}

// Snapshot returns the current state and its generation. The generation is
// bumped on every Replace and Reset.
func (s *SessionStore) Snapshot() (SessionState, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.gen
}

// Replace publishes a freshly negotiated state.
func (s *SessionStore) Replace(state SessionState) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.gen++
	return s.gen
}

// Reset clears every field unconditionally.
func (s *SessionStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SessionState{}
	s.gen++
}

// Invalidate clears the state only if it is still the generation the caller
// used. A caller holding a stale 401 must not wipe a session another caller
// has just renegotiated.
func (s *SessionStore) Invalidate(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.state = SessionState{}
	s.gen++
	return true
}

// Debug returns a redacted description of the current state.
func (s *SessionStore) Debug() DebugInfo {
	state, gen := s.Snapshot()
	return DebugInfo{
		CookieNames:        slices.Sorted(maps.Keys(state.Cookies)),
		HasCSRFToken:       state.CSRFToken != "",
		HasCSRFCookieToken: state.CSRFCookieToken != "",
		Authenticated:      state.Authenticated(),
		Generation:         gen,
	}
}
