package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/loginfirewall/internal/apperror"
)

// stubAuthService implements the parts of AuthService the login and logout
// handlers use. Unset methods panic through the nil embedded interface.
type stubAuthService struct {
	AuthService
	loginFn    func(ctx context.Context, input LoginInput) (string, *User, error)
	validateFn func(ctx context.Context, token string) (*Session, error)
	destroyed  []string
}

func (s *stubAuthService) Login(ctx context.Context, input LoginInput) (string, *User, error) {
	return s.loginFn(ctx, input)
}

func (s *stubAuthService) ValidateSession(ctx context.Context, token string) (*Session, error) {
	if s.validateFn != nil {
		return s.validateFn(ctx, token)
	}
	return nil, apperror.NewUnauthorized("session expired")
}

func (s *stubAuthService) DestroySession(_ context.Context, token string) error {
	s.destroyed = append(s.destroyed, token)
	return nil
}

// stubAccess records hook calls and reports a fixed degraded state.
type stubAccess struct {
	degraded bool
	granted  []string
	revoked  []string
}

func (a *stubAccess) GrantAccess(_ context.Context, userID, ip string) bool {
	a.granted = append(a.granted, userID+"@"+ip)
	return a.degraded
}

func (a *stubAccess) RevokeAccess(_ context.Context, userID string) {
	a.revoked = append(a.revoked, userID)
}

func acceptAlice() *stubAuthService {
	return &stubAuthService{
		loginFn: func(_ context.Context, in LoginInput) (string, *User, error) {
			if in.Username != "alice" || in.Password != "correct-horse" {
				return "", nil, apperror.NewUnauthorized("invalid username or password")
			}
			return "tok-1", &User{ID: "u-alice", Username: "alice", Role: RoleUser}, nil
		},
	}
}

func postLogin(t *testing.T, h *Handler, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"username": {username}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	req.RemoteAddr = "203.0.113.7:51234"
	rec := httptest.NewRecorder()
	require.NoError(t, h.Login(echo.New().NewContext(req, rec)))
	return rec
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	return nil
}

func TestLoginHandler_GrantsAccess(t *testing.T) {
	access := &stubAccess{}
	h := NewHandler(acceptAlice(), time.Hour)
	h.SetAccessHooks(access)

	rec := postLogin(t, h, "alice", "correct-horse")

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
	assert.Equal(t, []string{"u-alice@203.0.113.7"}, access.granted)
	require.NotNil(t, sessionCookie(rec))
	assert.Equal(t, "tok-1", sessionCookie(rec).Value)
}

func TestLoginHandler_DegradedPropagationStillLogsIn(t *testing.T) {
	h := NewHandler(acceptAlice(), time.Hour)
	h.SetAccessHooks(&stubAccess{degraded: true})

	rec := postLogin(t, h, "alice", "correct-horse")

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dashboard?access=degraded", rec.Header().Get("Location"))
	require.NotNil(t, sessionCookie(rec), "the session is issued despite the failed grant")
}

func TestLoginHandler_WithoutHooks(t *testing.T) {
	rec := postLogin(t, NewHandler(acceptAlice(), time.Hour), "alice", "correct-horse")

	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
}

func TestLoginHandler_WrongPasswordGrantsNothing(t *testing.T) {
	access := &stubAccess{}
	h := NewHandler(acceptAlice(), time.Hour)
	h.SetAccessHooks(access)

	rec := postLogin(t, h, "alice", "wrong")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid username or password")
	assert.Empty(t, access.granted)
	assert.Nil(t, sessionCookie(rec))
}

func TestLogoutHandler_RevokesAccess(t *testing.T) {
	svc := &stubAuthService{
		validateFn: func(_ context.Context, token string) (*Session, error) {
			return &Session{UserID: "u-alice", Username: "alice"}, nil
		},
	}
	access := &stubAccess{}
	h := NewHandler(svc, time.Hour)
	h.SetAccessHooks(access)

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "tok-1"})
	rec := httptest.NewRecorder()
	require.NoError(t, h.Logout(echo.New().NewContext(req, rec)))

	assert.Equal(t, "/login", rec.Header().Get("Location"))
	assert.Equal(t, []string{"u-alice"}, access.revoked)
	assert.Equal(t, []string{"tok-1"}, svc.destroyed)
}
