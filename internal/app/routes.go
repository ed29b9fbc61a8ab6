package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keyxmakerx/loginfirewall/internal/database"
	"github.com/keyxmakerx/loginfirewall/internal/middleware"
	"github.com/keyxmakerx/loginfirewall/internal/plugins/audit"
	"github.com/keyxmakerx/loginfirewall/internal/plugins/auth"
	"github.com/keyxmakerx/loginfirewall/internal/plugins/dashboard"
	"github.com/keyxmakerx/loginfirewall/internal/plugins/groups"
	"github.com/keyxmakerx/loginfirewall/internal/plugins/whitelist"
	"github.com/keyxmakerx/loginfirewall/internal/sanitize"
	"github.com/keyxmakerx/loginfirewall/internal/templates/layouts"
	"github.com/keyxmakerx/loginfirewall/internal/zoraxy"
)

// RegisterRoutes wires every plugin and registers all application routes.
// This is the single place where routes are aggregated.
func (a *App) RegisterRoutes() error {
	e := a.Echo

	// --- Services ---

	auditService := audit.NewAuditService(audit.NewAuditRepository(a.DB))

	authService := auth.NewAuthService(auth.NewUserRepository(a.DB), a.Redis, a.Config.Auth.SessionTTL)
	groupService := groups.NewGroupService(groups.NewGroupRepository(a.DB), authService)

	gateway, err := a.newGateway()
	if err != nil {
		return err
	}

	whitelistService := whitelist.NewWhitelistService(
		whitelist.NewEntryRepository(a.DB),
		groupService,
		gateway,
		whitelist.Options{
			TTL:         a.Config.Whitelist.TTL,
			Comment:     sanitize.Text(a.Config.Whitelist.Comment),
			Concurrency: a.Config.Whitelist.Concurrency,
			Metrics:     whitelist.NewMetrics(a.Metrics),
			Audit:       auditService,
		},
	)
	a.Sweeper = whitelist.NewSweeper(whitelistService, a.Config.Whitelist.SweepInterval, slog.Default())

	// --- Handlers ---

	authHandler := auth.NewHandler(authService, a.Config.Auth.SessionTTL)
	authHandler.SetAccessHooks(whitelist.NewAccessHooks(whitelistService))
	authHandler.SetAuditLogger(auditService)

	groupHandler := groups.NewHandler(groupService)
	groupHandler.SetAuditLogger(auditService)

	whitelistHandler := whitelist.NewHandler(whitelistService)
	dashboardHandler := dashboard.NewHandler(groupService, whitelistService)
	auditHandler := audit.NewHandler(auditService)

	a.registerLayoutInjector()

	// --- Public Routes (no auth required) ---

	e.GET("/healthz", a.health(gateway != nil))
	if a.Config.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.Metrics, promhttp.HandlerOpts{})))
	}

	// --- Session Route Groups ---

	requireAuth := auth.RequireAuth(authService)
	authed := e.Group("", requireAuth)
	api := e.Group("/api", requireAuth)
	admin := e.Group("/admin", requireAuth, auth.RequireAdmin())
	adminAPI := e.Group("/api/admin", requireAuth, auth.RequireAdmin())

	auth.RegisterRoutes(e, authed, adminAPI, authHandler)
	dashboard.RegisterRoutes(authed, dashboardHandler)
	whitelist.RegisterRoutes(authed, api, whitelistHandler)
	whitelist.RegisterAdminRoutes(admin, adminAPI, whitelistHandler)
	groups.RegisterRoutes(adminAPI, groupHandler)
	audit.RegisterRoutes(adminAPI, auditHandler)

	admin.GET("", func(c echo.Context) error {
		return c.Redirect(http.StatusSeeOther, "/admin/whitelist")
	})

	return nil
}

// newGateway builds the Zoraxy client. Missing settings disable the
// whitelist feature instead of failing startup; the returned gateway is
// then an untyped nil so the whitelist service sees it as absent.
func (a *App) newGateway() (whitelist.Gateway, error) {
	client, err := zoraxy.New(zoraxy.Config{
		BaseURL:    a.Config.Zoraxy.URL,
		Username:   a.Config.Zoraxy.Username,
		Password:   a.Config.Zoraxy.Password,
		Timeout:    a.Config.Zoraxy.Timeout,
		Registerer: a.Metrics,
	})
	switch {
	case err == nil:
		slog.Info("zoraxy whitelist integration enabled", slog.String("url", a.Config.Zoraxy.URL))
		return client, nil
	case errors.Is(err, zoraxy.ErrNotConfigured):
		slog.Warn("zoraxy is not configured; logins will not be whitelisted")
		return nil, nil
	default:
		return nil, fmt.Errorf("creating zoraxy client: %w", err)
	}
}

// registerLayoutInjector copies session and flash data into the render
// context for every page.
func (a *App) registerLayoutInjector() {
	middleware.LayoutInjector = func(c echo.Context, ctx context.Context) context.Context {
		ctx = layouts.SetCSRFToken(ctx, middleware.GetCSRFToken(c))
		ctx = layouts.SetActivePath(ctx, c.Request().URL.Path)

		if s := auth.GetSession(c); s != nil {
			name := s.Name
			if name == "" {
				name = s.Username
			}
			ctx = layouts.SetIsAuthenticated(ctx, true)
			ctx = layouts.SetUserID(ctx, s.UserID)
			ctx = layouts.SetUserName(ctx, name)
			ctx = layouts.SetIsAdmin(ctx, s.IsAdmin())
		}

		if msg, ok := c.Get(middleware.FlashSuccessKey).(string); ok && msg != "" {
			ctx = layouts.SetFlashSuccess(ctx, msg)
		}
		if msg, ok := c.Get(middleware.FlashErrorKey).(string); ok && msg != "" {
			ctx = layouts.SetFlashError(ctx, msg)
		}
		return ctx
	}
}

// health reports database and Redis reachability. Zoraxy is reported as
// configured or not, never probed.
func (a *App) health(zoraxyConfigured bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		backends := database.Check(ctx, a.DB, a.Redis)
		body := map[string]string{
			"status":   "ok",
			"database": backends.Database,
			"redis":    backends.Redis,
			"zoraxy":   "configured",
		}
		if !zoraxyConfigured {
			body["zoraxy"] = "not_configured"
		}
		status := http.StatusOK
		if !backends.OK() {
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, body)
	}
}
