// Package dashboard serves the landing pages: the admin overview, the
// super admin console and the settings page.
package dashboard

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/claimdesk/claimdesk/internal/authz"
	"github.com/claimdesk/claimdesk/internal/backend"
	"github.com/claimdesk/claimdesk/internal/companies"
	"github.com/claimdesk/claimdesk/internal/guard"
	"github.com/claimdesk/claimdesk/internal/identity"
	"github.com/claimdesk/claimdesk/internal/shared"
	"github.com/claimdesk/claimdesk/internal/view"
)

// StatsSource reads the claim counters from the backend.
type StatsSource interface {
	ClaimStats(ctx context.Context) (backend.ClaimStats, error)
}

// TokenSource attaches the signed-in actor's bearer token to a context.
type TokenSource interface {
	BackendContext(ctx context.Context, sess *shared.Session) (context.Context, error)
}

// CompanySummarizer counts companies for the overview tile.
type CompanySummarizer interface {
	Summarize(ctx context.Context) (companies.Summary, error)
}

// SystemInfo is what the super admin settings section shows.
type SystemInfo struct {
	Env            string
	BackendURL     string
	BackendBreaker string
	DamageURL      string
	QueuePending   int
	QueueActive    int
	QueueErr       string
}

// SystemProbe collects the runtime facts for the settings page.
type SystemProbe func(ctx context.Context) SystemInfo

// Deps groups the handler collaborators.
type Deps struct {
	Logger    *slog.Logger
	Stats     StatsSource
	Tokens    TokenSource
	Companies CompanySummarizer
	System    SystemProbe
	Templates *view.Engine
	CSRF      *shared.CSRFManager
	Gate      *guard.Gatekeeper
}

// Handler serves the dashboard pages.
type Handler struct {
	Deps
}

// NewHandler builds a Handler.
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handler{Deps: deps}
}

// MountRoutes registers the dashboard pages on the root router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.home)
	r.With(h.Gate.Protect(guard.RequireRole(authz.RoleAdmin))).Get("/admin", h.overview)
	r.With(h.Gate.Protect(guard.RequireRole(authz.RoleSuperAdmin))).Get("/super-admin", h.superAdmin)
	r.With(h.Gate.Protect(guard.AllowRoles(authz.RoleAdmin, authz.RoleSuperAdmin))).Get("/settings", h.settings)
}

func (h *Handler) home(w http.ResponseWriter, r *http.Request) {
	snap := identity.SnapshotFromContext(r.Context())
	if authz.HasMinimumRole(snap, authz.RoleAdmin) {
		http.Redirect(w, r, "/admin", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
}

type overviewPage struct {
	Stats      backend.ClaimStats
	StatsError string
	Companies  *companies.Summary
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	snap := identity.SnapshotFromContext(r.Context())
	page := overviewPage{}

	stats, err := h.claimStats(r)
	if err != nil {
		if identity.IsRefreshError(err) {
			http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
			return
		}
		h.Logger.Warn("dashboard: claim stats", slog.Any("error", err))
		page.StatsError = "Claim statistics are unavailable right now."
	}
	page.Stats = stats

	page.Companies = authz.Gate(snap, authz.NeedPermission(authz.ReadCompanies),
		func() *companies.Summary { return h.companySummary(r.Context()) },
		func() *companies.Summary { return nil },
	)
	h.render(w, r, "page/dashboard", "Dashboard", page)
}

func (h *Handler) claimStats(r *http.Request) (backend.ClaimStats, error) {
	if h.Stats == nil || h.Tokens == nil {
		return backend.ClaimStats{}, nil
	}
	ctx, err := h.Tokens.BackendContext(r.Context(), shared.SessionFromContext(r.Context()))
	if err != nil {
		return backend.ClaimStats{}, err
	}
	return h.Stats.ClaimStats(ctx)
}

func (h *Handler) companySummary(ctx context.Context) *companies.Summary {
	if h.Companies == nil {
		return nil
	}
	sum, err := h.Companies.Summarize(ctx)
	if err != nil {
		h.Logger.Warn("dashboard: company summary", slog.Any("error", err))
		return nil
	}
	return &sum
}

// RoleRow is one row of the permission matrix.
type RoleRow struct {
	Role    authz.Role
	Granted map[authz.Permission]bool
}

type superAdminPage struct {
	Permissions []authz.Permission
	Rows        []RoleRow
}

func (h *Handler) superAdmin(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "page/super_admin", "Super Admin", superAdminPage{
		Permissions: authz.Catalog(),
		Rows:        permissionMatrix(),
	})
}

func permissionMatrix() []RoleRow {
	roles := authz.Roles()
	rows := make([]RoleRow, 0, len(roles))
	for _, role := range roles {
		granted := make(map[authz.Permission]bool)
		for _, p := range authz.PermissionsFor(role) {
			granted[p] = true
		}
		rows = append(rows, RoleRow{Role: role, Granted: granted})
	}
	return rows
}

type settingsPage struct {
	Profile identity.Actor
	System  *SystemInfo
}

func (h *Handler) settings(w http.ResponseWriter, r *http.Request) {
	snap := identity.SnapshotFromContext(r.Context())
	actor, _ := snap.Actor()
	page := settingsPage{Profile: actor}
	page.System = authz.Gate(snap, authz.NeedRole(authz.RoleSuperAdmin),
		func() *SystemInfo {
			if h.System == nil {
				return &SystemInfo{}
			}
			info := h.System(r.Context())
			return &info
		},
		func() *SystemInfo { return nil },
	)
	h.render(w, r, "page/settings", "Settings", page)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, name, title string, data any) {
	sess := shared.SessionFromContext(r.Context())
	var flash *shared.FlashMessage
	var csrfToken string
	if sess != nil {
		flash = sess.PopFlash()
		csrfToken, _ = h.CSRF.EnsureToken(sess)
	}
	err := h.Templates.Render(w, name, view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Actor:       identity.SnapshotFromContext(r.Context()),
		Data:        data,
	})
	if err != nil {
		h.Logger.Error("render template", slog.String("template", name), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
