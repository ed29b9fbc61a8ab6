package audit

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes mounts the audit feed on an admin-only route group. The
// caller is responsible for attaching authentication and admin middleware.
func RegisterRoutes(admin *echo.Group, h *Handler) {
	admin.GET("/audit", h.Activity)
	admin.GET("/users/:id/audit", h.UserHistory)
}
