package auth

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/loginfirewall/internal/middleware"
)

// RegisterRoutes sets up the auth pages and the admin user API. authed
// must require a session; adminAPI (/api/admin) must require an admin.
//
// POST /login is rate-limited to blunt brute-force and credential stuffing:
// 10 attempts per IP per minute.
func RegisterRoutes(e *echo.Echo, authed, adminAPI *echo.Group, h *Handler) {
	e.GET("/login", h.LoginForm)
	e.POST("/login", h.Login, middleware.RateLimit(10, time.Minute))
	e.POST("/logout", h.Logout)

	authed.GET("/profile", h.ProfileForm)
	authed.POST("/profile/password", h.ChangePassword, middleware.RateLimit(10, time.Minute))

	adminAPI.GET("/users", h.ListUsers)
	adminAPI.POST("/users", h.CreateUser)
	adminAPI.PUT("/users/:id", h.UpdateUser)
	adminAPI.DELETE("/users/:id", h.DeleteUser)
}
