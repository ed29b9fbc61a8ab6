package whitelist

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/loginfirewall/internal/middleware"
)

// RegisterRoutes mounts the user actions on authed (page forms) and api
// (JSON). Both groups must already require a session.
func RegisterRoutes(authed, api *echo.Group, h *Handler) {
	refreshLimit := middleware.RateLimit(20, time.Minute)

	authed.POST("/whitelist", h.Refresh, refreshLimit)
	authed.POST("/whitelist/revoke", h.Revoke)

	api.GET("/whitelist", h.List)
	api.POST("/whitelist", h.Propagate, refreshLimit)
	api.POST("/whitelist/revoke", h.RevokeAPI)
}

// RegisterAdminRoutes mounts the admin overview and actions. admin serves
// pages under /admin, adminAPI serves JSON under /api/admin; both must
// require an admin session.
func RegisterAdminRoutes(admin, adminAPI *echo.Group, h *Handler) {
	admin.GET("/whitelist", h.AdminOverview)
	admin.POST("/whitelist/sweep", h.AdminSweep)

	adminAPI.GET("/whitelist", h.AdminList)
	adminAPI.POST("/whitelist/sweep", h.AdminSweepAPI)
	adminAPI.POST("/users/:id/revoke", h.AdminRevokeUser)
}
