package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/loginfirewall/internal/apperror"
	"github.com/keyxmakerx/loginfirewall/internal/middleware"
	"github.com/keyxmakerx/loginfirewall/internal/plugins/audit"
	"github.com/keyxmakerx/loginfirewall/internal/templates/pages"
)

// sessionCookieName is the HTTP cookie used to store the session token.
const sessionCookieName = "lf_session"

// AccessHooks grants and revokes network access around the session
// lifecycle. Implemented by the whitelist plugin; injected after both
// plugins are built so auth does not import it.
type AccessHooks interface {
	// GrantAccess whitelists ip for the user. degraded reports that not
	// every target could be reached; it never fails the login.
	GrantAccess(ctx context.Context, userID, ip string) (degraded bool)

	// RevokeAccess removes every grant the user holds.
	RevokeAccess(ctx context.Context, userID string)
}

// AuditLogger records login and account events. audit.AuditService
// satisfies it.
type AuditLogger interface {
	Log(ctx context.Context, entry *audit.AuditEntry) error
}

// Handler handles HTTP requests for authentication and account management.
// Handlers are thin: they bind the request, call the service, and render the
// response. No business logic lives here.
type Handler struct {
	service    AuthService
	sessionTTL time.Duration
	access     AccessHooks
	audit      AuditLogger
}

// NewHandler creates a new auth handler with the given service.
func NewHandler(service AuthService, sessionTTL time.Duration) *Handler {
	return &Handler{service: service, sessionTTL: sessionTTL}
}

// SetAccessHooks wires the whitelist lifecycle into login and logout.
func (h *Handler) SetAccessHooks(hooks AccessHooks) {
	h.access = hooks
}

// SetAuditLogger wires the audit log.
func (h *Handler) SetAuditLogger(l AuditLogger) {
	h.audit = l
}

// LoginForm renders the login page (GET /login).
func (h *Handler) LoginForm(c echo.Context) error {
	if token := getSessionToken(c); token != "" {
		if _, err := h.service.ValidateSession(c.Request().Context(), token); err == nil {
			return c.Redirect(http.StatusSeeOther, "/dashboard")
		}
	}
	return middleware.Render(c, http.StatusOK, pages.LoginPage(middleware.GetCSRFToken(c), "", ""))
}

// Login processes the login form submission (POST /login). On success the
// client's IP is whitelisted before redirecting; a propagation problem
// only adds a banner to the dashboard.
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	ctx := c.Request().Context()
	ip := c.RealIP()
	token, user, err := h.service.Login(ctx, LoginInput{
		Username: req.Username,
		Password: req.Password,
		IP:       ip,
	})
	if err != nil {
		if apperror.SafeCode(err) == http.StatusUnauthorized {
			h.logAudit(ctx, &audit.AuditEntry{
				Action:  audit.ActionLoginFailed,
				IP:      ip,
				Details: map[string]any{"username": req.Username},
			})
		}
		errMsg := "invalid username or password"
		if appErr, ok := err.(*apperror.AppError); ok {
			errMsg = appErr.Message
		}
		return middleware.Render(c, http.StatusOK, pages.LoginPage(middleware.GetCSRFToken(c), req.Username, errMsg))
	}

	setSessionCookie(c, token, h.sessionTTL)
	h.logAudit(ctx, &audit.AuditEntry{UserID: user.ID, Action: audit.ActionLoginSucceeded, IP: ip})

	target := "/dashboard"
	if h.access != nil && h.access.GrantAccess(ctx, user.ID, ip) {
		target = "/dashboard?access=degraded"
	}
	return redirect(c, target)
}

// Logout revokes the user's whitelist grants, destroys the session and
// clears the cookie (POST /logout).
func (h *Handler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	if token := getSessionToken(c); token != "" {
		if session, err := h.service.ValidateSession(ctx, token); err == nil {
			if h.access != nil {
				h.access.RevokeAccess(ctx, session.UserID)
			}
			h.logAudit(ctx, &audit.AuditEntry{UserID: session.UserID, Action: audit.ActionLogout, IP: c.RealIP()})
		}
		// The cookie is cleared regardless.
		_ = h.service.DestroySession(ctx, token)
	}

	clearSessionCookie(c)
	return redirect(c, "/login")
}

// ProfileForm renders the change-password page (GET /profile).
func (h *Handler) ProfileForm(c echo.Context) error {
	session := GetSession(c)
	if session == nil {
		return apperror.NewMissingContext()
	}
	return middleware.Render(c, http.StatusOK, pages.ProfilePage(session.Username, ""))
}

// ChangePassword processes the change-password form (POST /profile/password).
func (h *Handler) ChangePassword(c echo.Context) error {
	session := GetSession(c)
	if session == nil {
		return apperror.NewMissingContext()
	}

	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	if req.NewPassword != req.Confirm {
		return middleware.Render(c, http.StatusOK, pages.ProfilePage(session.Username, "passwords do not match"))
	}

	if err := h.service.ChangePassword(c.Request().Context(), session.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		return middleware.Render(c, http.StatusOK, pages.ProfilePage(session.Username, apperror.SafeMessage(err)))
	}
	return redirect(c, "/dashboard?password=changed")
}

// --- Admin user management (JSON) ---

// ListUsers returns every account (GET /api/admin/users).
func (h *Handler) ListUsers(c echo.Context) error {
	users, err := h.service.ListUsers(c.Request().Context())
	if err != nil {
		return err
	}
	if users == nil {
		users = []User{}
	}
	return c.JSON(http.StatusOK, users)
}

// CreateUser adds an account (POST /api/admin/users).
func (h *Handler) CreateUser(c echo.Context) error {
	var req CreateUserRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	ctx := c.Request().Context()
	user, err := h.service.CreateUser(ctx, CreateUserInput{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		Role:        req.Role,
	})
	if err != nil {
		return err
	}

	h.logAudit(ctx, &audit.AuditEntry{
		UserID:  user.ID,
		ActorID: GetUserID(c),
		Action:  audit.ActionUserChanged,
		Details: map[string]any{"op": "create", "role": user.Role},
	})
	return c.JSON(http.StatusCreated, user)
}

// UpdateUser edits an account (PUT /api/admin/users/:id).
func (h *Handler) UpdateUser(c echo.Context) error {
	var req UpdateUserRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	ctx := c.Request().Context()
	user, err := h.service.UpdateUser(ctx, c.Param("id"), req)
	if err != nil {
		return err
	}

	h.logAudit(ctx, &audit.AuditEntry{
		UserID:  user.ID,
		ActorID: GetUserID(c),
		Action:  audit.ActionUserChanged,
		Details: map[string]any{
			"op":               "update",
			"role":             user.Role,
			"password_changed": req.NewPassword != "",
		},
	})
	return c.JSON(http.StatusOK, user)
}

// DeleteUser removes an account (DELETE /api/admin/users/:id). The user's
// grants are revoked first; whitelist records are not tied to the users
// table and would otherwise wait for expiry.
func (h *Handler) DeleteUser(c echo.Context) error {
	id := c.Param("id")
	if id == GetUserID(c) {
		return apperror.NewBadRequest("you cannot delete your own account")
	}

	ctx := c.Request().Context()
	if h.access != nil {
		h.access.RevokeAccess(ctx, id)
	}
	if err := h.service.DeleteUser(ctx, id); err != nil {
		return err
	}

	h.logAudit(ctx, &audit.AuditEntry{
		UserID:  id,
		ActorID: GetUserID(c),
		Action:  audit.ActionUserChanged,
		Details: map[string]any{"op": "delete"},
	})
	return c.NoContent(http.StatusNoContent)
}

// logAudit writes a best-effort audit entry.
func (h *Handler) logAudit(ctx context.Context, entry *audit.AuditEntry) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Log(ctx, entry); err != nil {
		slog.Warn("failed to audit auth event",
			slog.String("action", entry.Action),
			slog.Any("error", err),
		)
	}
}

// redirect sends HTMX clients an HX-Redirect header and browsers a 303.
func redirect(c echo.Context, target string) error {
	if middleware.IsHTMX(c) {
		c.Response().Header().Set("HX-Redirect", target)
		return c.NoContent(http.StatusNoContent)
	}
	return c.Redirect(http.StatusSeeOther, target)
}

// --- Cookie helpers ---

// getSessionToken reads the session token from the cookie.
func getSessionToken(c echo.Context) string {
	cookie, err := c.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	return cookie.Value
}

// setSessionCookie sets the session cookie on the response. The cookie is
// HttpOnly (JS can't read it), Secure if behind TLS, and SameSite=Lax. It
// lives exactly as long as the Redis session.
func setSessionCookie(c echo.Context, token string, ttl time.Duration) {
	req := c.Request()
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

// clearSessionCookie removes the session cookie by setting MaxAge to -1.
func clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}
