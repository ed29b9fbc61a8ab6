package whitelist

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/loginfirewall/internal/apperror"
	"github.com/keyxmakerx/loginfirewall/internal/middleware"
	"github.com/keyxmakerx/loginfirewall/internal/plugins/auth"
	"github.com/keyxmakerx/loginfirewall/internal/templates/pages"
)

// Handler exposes the lifecycle manager to signed-in users and admins.
// Handlers are thin: bind request, call service, render response.
type Handler struct {
	service WhitelistService
}

// NewHandler creates a new whitelist handler.
func NewHandler(service WhitelistService) *Handler {
	return &Handler{service: service}
}

// --- User actions ---

// Refresh re-propagates the caller's current IP (POST /whitelist).
func (h *Handler) Refresh(c echo.Context) error {
	result, err := h.propagate(c)
	if err != nil {
		return err
	}
	target := "/dashboard?access=granted"
	switch {
	case result.NotConfigured:
		target = "/dashboard"
	case result.Degraded():
		target = "/dashboard?access=degraded"
	}
	return c.Redirect(http.StatusSeeOther, target)
}

// Revoke removes every grant the caller holds (POST /whitelist/revoke).
func (h *Handler) Revoke(c echo.Context) error {
	n, err := h.service.RevokeAll(c.Request().Context(), auth.GetUserID(c))
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusSeeOther, "/dashboard?revoked="+strconv.Itoa(n))
}

// --- User JSON API ---

// List returns the caller's grants (GET /api/whitelist).
func (h *Handler) List(c echo.Context) error {
	entries, err := h.service.ListForUser(c.Request().Context(), auth.GetUserID(c))
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return c.JSON(http.StatusOK, entries)
}

// Propagate re-propagates the caller's IP and returns the per-target
// result (POST /api/whitelist). 503 when the firewall is not configured,
// 502 when every target failed.
func (h *Handler) Propagate(c echo.Context) error {
	result, err := h.propagate(c)
	if err != nil {
		return err
	}
	if result.NotConfigured {
		return apperror.NewServiceUnavailable("firewall integration is not configured")
	}
	if len(result.Failed) > 0 && len(result.Succeeded) == 0 {
		return c.JSON(http.StatusBadGateway, result)
	}
	return c.JSON(http.StatusOK, result)
}

// RevokeAPI removes the caller's grants (POST /api/whitelist/revoke).
func (h *Handler) RevokeAPI(c echo.Context) error {
	n, err := h.service.RevokeAll(c.Request().Context(), auth.GetUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"revoked": n})
}

// --- Admin ---

// AdminOverview renders every active grant (GET /admin/whitelist).
func (h *Handler) AdminOverview(c echo.Context) error {
	return h.renderAdmin(c, nil)
}

// AdminSweep runs a sweep and re-renders the overview with its result
// (POST /admin/whitelist/sweep).
func (h *Handler) AdminSweep(c echo.Context) error {
	result, err := h.service.Sweep(c.Request().Context())
	if err != nil {
		return err
	}
	return h.renderAdmin(c, &pages.SweepView{
		Removed:      result.Removed,
		StillFailing: result.StillFailing,
		Renewed:      result.Renewed,
		Skipped:      result.Skipped,
	})
}

// AdminList returns every active grant (GET /api/admin/whitelist).
func (h *Handler) AdminList(c echo.Context) error {
	entries, err := h.service.ListActive(c.Request().Context())
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return c.JSON(http.StatusOK, entries)
}

// AdminSweepAPI runs a sweep (POST /api/admin/whitelist/sweep).
func (h *Handler) AdminSweepAPI(c echo.Context) error {
	result, err := h.service.Sweep(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// AdminRevokeUser removes every grant of another user
// (POST /api/admin/users/:id/revoke).
func (h *Handler) AdminRevokeUser(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return apperror.NewBadRequest("user ID is required")
	}
	n, err := h.service.RevokeAll(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"revoked": n})
}

func (h *Handler) propagate(c echo.Context) (*PropagateResult, error) {
	userID := auth.GetUserID(c)
	if userID == "" {
		return nil, apperror.NewMissingContext()
	}
	ctx, cancel := detach(c.Request().Context(), propagateBudget)
	defer cancel()
	return h.service.Propagate(ctx, userID, c.RealIP())
}

func (h *Handler) renderAdmin(c echo.Context, sweep *pages.SweepView) error {
	entries, err := h.service.ListActive(c.Request().Context())
	if err != nil {
		return err
	}
	return middleware.Render(c, http.StatusOK, pages.AdminWhitelistPage(pages.AdminWhitelistData{
		Configured: h.service.Configured(),
		Now:        h.service.Now(),
		Entries:    EntryViews(entries),
		Sweep:      sweep,
	}))
}

// EntryViews converts entries for the page templates.
func EntryViews(entries []Entry) []pages.EntryView {
	views := make([]pages.EntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, pages.EntryView{
			Username:    e.Username,
			WhitelistID: e.WhitelistID,
			IP:          e.IP,
			ExpiresAt:   e.ExpiresAt,
		})
	}
	return views
}
