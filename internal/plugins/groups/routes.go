package groups

import "github.com/labstack/echo/v4"

// RegisterRoutes mounts the group API on adminAPI (/api/admin), which must
// already require an admin session.
func RegisterRoutes(adminAPI *echo.Group, h *Handler) {
	adminAPI.GET("/groups", h.List)
	adminAPI.POST("/groups", h.Create)
	adminAPI.GET("/groups/:id", h.Get)
	adminAPI.PUT("/groups/:id", h.Update)
	adminAPI.DELETE("/groups/:id", h.Delete)

	adminAPI.POST("/groups/:id/members", h.AddMember)
	adminAPI.DELETE("/groups/:id/members/:userID", h.RemoveMember)

	adminAPI.POST("/groups/:id/links", h.AddLink)
	adminAPI.PUT("/links/:linkID", h.UpdateLink)
	adminAPI.DELETE("/links/:linkID", h.DeleteLink)
}
