// Package dashboard renders the signed-in user's landing page: the links
// their groups grant and the state of their network access.
package dashboard

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/loginfirewall/internal/apperror"
	"github.com/keyxmakerx/loginfirewall/internal/middleware"
	"github.com/keyxmakerx/loginfirewall/internal/plugins/auth"
	"github.com/keyxmakerx/loginfirewall/internal/plugins/groups"
	"github.com/keyxmakerx/loginfirewall/internal/plugins/whitelist"
	"github.com/keyxmakerx/loginfirewall/internal/templates/pages"
)

// LinkLister returns the links a user's groups grant. groups.GroupService
// satisfies it.
type LinkLister interface {
	LinksForUser(ctx context.Context, userID string) ([]groups.UserLink, error)
}

// AccessViewer reports a user's grants. whitelist.WhitelistService
// satisfies it.
type AccessViewer interface {
	ListForUser(ctx context.Context, userID string) ([]whitelist.Entry, error)
	Configured() bool
}

// Handler serves the dashboard.
type Handler struct {
	links  LinkLister
	access AccessViewer
}

// NewHandler creates a new dashboard handler.
func NewHandler(links LinkLister, access AccessViewer) *Handler {
	return &Handler{links: links, access: access}
}

// Show renders the dashboard (GET /dashboard). Query parameters carry the
// outcome of the action that redirected here.
func (h *Handler) Show(c echo.Context) error {
	userID := auth.GetUserID(c)
	if userID == "" {
		return apperror.NewMissingContext()
	}
	ctx := c.Request().Context()

	links, err := h.links.LinksForUser(ctx, userID)
	if err != nil {
		return err
	}
	entries, err := h.access.ListForUser(ctx, userID)
	if err != nil {
		return err
	}

	data := pages.DashboardData{
		ClientIP:   c.RealIP(),
		Configured: h.access.Configured(),
		Degraded:   c.QueryParam("access") == "degraded",
		Entries:    whitelist.EntryViews(entries),
	}
	switch {
	case c.QueryParam("access") == "granted":
		c.Set(middleware.FlashSuccessKey, "Network access refreshed.")
	case c.QueryParam("password") == "changed":
		c.Set(middleware.FlashSuccessKey, "Password updated.")
	}
	if v := c.QueryParam("revoked"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			data.Revoked, data.ShowRevoked = n, true
		}
	}
	for _, l := range links {
		data.Links = append(data.Links, pages.LinkView{
			Title: l.Title,
			URL:   l.URL,
			Icon:  l.Icon,
			Group: l.GroupName,
		})
	}

	return middleware.Render(c, http.StatusOK, pages.DashboardPage(data))
}
