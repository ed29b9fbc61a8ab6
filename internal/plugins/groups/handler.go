package groups

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/loginfirewall/internal/apperror"
	"github.com/keyxmakerx/loginfirewall/internal/plugins/audit"
	"github.com/keyxmakerx/loginfirewall/internal/plugins/auth"
)

// AuditLogger records admin edits. audit.AuditService satisfies it.
type AuditLogger interface {
	Log(ctx context.Context, entry *audit.AuditEntry) error
}

// Handler serves the admin group API. Handlers are thin: bind request,
// call service, render response.
type Handler struct {
	service GroupService
	audit   AuditLogger
}

// NewHandler creates a new group handler.
func NewHandler(service GroupService) *Handler {
	return &Handler{service: service}
}

// SetAuditLogger wires the audit log.
func (h *Handler) SetAuditLogger(l AuditLogger) {
	h.audit = l
}

// List returns every group (GET /api/admin/groups).
func (h *Handler) List(c echo.Context) error {
	groups, err := h.service.ListGroups(c.Request().Context())
	if err != nil {
		return err
	}
	if groups == nil {
		groups = []Group{}
	}
	return c.JSON(http.StatusOK, groups)
}

// Get returns a group with members and links (GET /api/admin/groups/:id).
func (h *Handler) Get(c echo.Context) error {
	g, err := h.service.GetGroup(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, g)
}

// Create adds a group (POST /api/admin/groups).
func (h *Handler) Create(c echo.Context) error {
	var req CreateGroupRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	g, err := h.service.CreateGroup(c.Request().Context(), req)
	if err != nil {
		return err
	}
	h.logChange(c, g.ID, "create", nil)
	return c.JSON(http.StatusCreated, g)
}

// Update renames a group or changes its access rule (PUT /api/admin/groups/:id).
func (h *Handler) Update(c echo.Context) error {
	var req UpdateGroupRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	g, err := h.service.UpdateGroup(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return err
	}
	h.logChange(c, g.ID, "update", map[string]any{"whitelist_id": g.WhitelistID})
	return c.JSON(http.StatusOK, g)
}

// Delete removes a group (DELETE /api/admin/groups/:id).
func (h *Handler) Delete(c echo.Context) error {
	id := c.Param("id")
	if err := h.service.DeleteGroup(c.Request().Context(), id); err != nil {
		return err
	}
	h.logChange(c, id, "delete", nil)
	return c.NoContent(http.StatusNoContent)
}

// AddMember adds a user by username (POST /api/admin/groups/:id/members).
func (h *Handler) AddMember(c echo.Context) error {
	var req AddMemberRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	m, err := h.service.AddMember(c.Request().Context(), c.Param("id"), req.Username)
	if err != nil {
		return err
	}
	h.logChange(c, c.Param("id"), "add_member", map[string]any{"user_id": m.UserID})
	return c.JSON(http.StatusCreated, m)
}

// RemoveMember removes a user (DELETE /api/admin/groups/:id/members/:userID).
func (h *Handler) RemoveMember(c echo.Context) error {
	userID := c.Param("userID")
	if err := h.service.RemoveMember(c.Request().Context(), c.Param("id"), userID); err != nil {
		return err
	}
	h.logChange(c, c.Param("id"), "remove_member", map[string]any{"user_id": userID})
	return c.NoContent(http.StatusNoContent)
}

// AddLink adds a link (POST /api/admin/groups/:id/links).
func (h *Handler) AddLink(c echo.Context) error {
	var req LinkRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	l, err := h.service.AddLink(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, l)
}

// UpdateLink replaces a link (PUT /api/admin/links/:linkID).
func (h *Handler) UpdateLink(c echo.Context) error {
	var req LinkRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	l, err := h.service.UpdateLink(c.Request().Context(), c.Param("linkID"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, l)
}

// DeleteLink removes a link (DELETE /api/admin/links/:linkID).
func (h *Handler) DeleteLink(c echo.Context) error {
	if err := h.service.DeleteLink(c.Request().Context(), c.Param("linkID")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) logChange(c echo.Context, groupID, op string, details map[string]any) {
	if h.audit == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	details["group_id"] = groupID
	details["op"] = op
	entry := &audit.AuditEntry{
		ActorID: auth.GetUserID(c),
		Action:  audit.ActionGroupChanged,
		Details: details,
	}
	if err := h.audit.Log(c.Request().Context(), entry); err != nil {
		slog.Warn("failed to audit group change", slog.Any("error", err))
	}
}
