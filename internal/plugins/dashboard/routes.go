package dashboard

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RegisterRoutes mounts the dashboard on authed, which must already
// require a session.
func RegisterRoutes(authed *echo.Group, h *Handler) {
	authed.GET("/", func(c echo.Context) error {
		return c.Redirect(http.StatusSeeOther, "/dashboard")
	})
	authed.GET("/dashboard", h.Show)
}
