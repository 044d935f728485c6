package guard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/claimdesk/claimdesk/internal/authz"
	"github.com/claimdesk/claimdesk/internal/identity"
	"github.com/claimdesk/claimdesk/internal/shared"
	"github.com/claimdesk/claimdesk/internal/view"
)

// Refresher is the part of the identity provider the gate drives.
type Refresher interface {
	RefreshSession(ctx context.Context, sess *shared.Session) error
	Logout(sess *shared.Session)
}

// Gatekeeper wraps pages with Protect and serves the denied-view actions.
type Gatekeeper struct {
	Store     RetryStore
	Identity  Refresher
	Templates *view.Engine
	CSRF      *shared.CSRFManager
	Recorder  authz.DecisionRecorder
	Logger    *slog.Logger
	LoginPath string

	// AttemptTimeout bounds how long a retry may stay in flight before
	// another press may take over. Zero means DefaultAttemptTimeout.
	AttemptTimeout time.Duration
}

// DeniedView is rendered by the access_denied page.
type DeniedView struct {
	ViewID       string
	Next         string
	CurrentRole  authz.Role
	Required     string
	AllowedRoles []authz.Role
	ActorName    string
	Attempts     int
	MaxAttempts  int
	Exhausted    bool
	Retrying     bool
	LastError    string
}

// Protect gates a page. Unauthenticated visitors are redirected to the
// login page once; denied actors get the access-denied view with a 403.
func (g *Gatekeeper) Protect(policy Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap := identity.SnapshotFromContext(r.Context())
			state := Evaluate(snap, policy)
			if g.Recorder != nil {
				g.Recorder.ObserveDecision("page", state == Authorized)
			}
			switch state {
			case Authorized:
				next.ServeHTTP(w, r)
			case Loading:
				w.Header().Set("Retry-After", "1")
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			case Unauthenticated:
				http.Redirect(w, r, g.loginURL(r), http.StatusSeeOther)
			default:
				g.renderDenied(w, r, snap, policy)
			}
		})
	}
}

func (g *Gatekeeper) renderDenied(w http.ResponseWriter, r *http.Request, snap identity.Snapshot, policy Policy) {
	ctx := r.Context()
	sess := shared.SessionFromContext(ctx)
	data := DeniedView{
		Next:         r.URL.Path,
		CurrentRole:  snap.GetRole(),
		Required:     policy.Describe(),
		AllowedRoles: policy.AllowedRoles,
		ActorName:    snap.DisplayName(),
		MaxAttempts:  MaxAttempts,
	}

	var csrfToken string
	if sess != nil {
		csrfToken, _ = g.CSRF.EnsureToken(sess)
		state, viewID, err := g.mountOrResume(ctx, sess.ID, r.URL.Query().Get("view"))
		if err != nil {
			g.logger().Error("guard: mount denied view", slog.Any("error", err))
		} else {
			data.ViewID = viewID
			data.Attempts = state.Attempts
			data.Exhausted = state.Exhausted()
			data.Retrying = state.InFlight && !state.Abandoned(time.Now(), g.AttemptTimeout)
			data.LastError = state.LastError
		}
	}

	err := g.Templates.RenderStatus(w, http.StatusForbidden, "page/access_denied", view.TemplateData{
		Title:       "Access Denied",
		CSRFToken:   csrfToken,
		CurrentPath: r.URL.Path,
		Actor:       snap,
		Data:        data,
	})
	if err != nil {
		g.logger().Error("guard: render denied view", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	}
}

// mountOrResume keeps the attempt counter for the life of a denied view:
// an existing view owned by the session is resumed, anything else mounts a
// new one.
func (g *Gatekeeper) mountOrResume(ctx context.Context, owner, viewID string) (RetryState, string, error) {
	if viewID != "" {
		state, err := g.Store.Load(ctx, viewID, owner)
		if err == nil && !state.Dismounted {
			return state, viewID, nil
		}
		if err != nil && !errors.Is(err, ErrUnknownView) {
			return RetryState{}, "", err
		}
	}
	id, err := g.Store.Mount(ctx, owner)
	if err != nil {
		return RetryState{}, "", err
	}
	return RetryState{Owner: owner}, id, nil
}

// Retry performs one bounded session refresh for a denied view and sends
// the browser back to the protected page, where evaluation runs again.
func (g *Gatekeeper) Retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := shared.SessionFromContext(ctx)
	if sess == nil || !identity.SnapshotFromContext(ctx).Authenticated() {
		http.Redirect(w, r, g.LoginPath, http.StatusSeeOther)
		return
	}
	viewID := r.PostFormValue("view_id")
	next := shared.SafeRedirect(r.PostFormValue("next"))

	var ticket uint64
	_, err := g.Store.Update(ctx, viewID, sess.ID, func(st *RetryState) error {
		t, err := st.Begin(time.Now(), g.AttemptTimeout)
		ticket = t
		return err
	})
	switch {
	case errors.Is(err, ErrUnknownView):
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	case errors.Is(err, ErrStaleResult):
		http.Redirect(w, r, g.LoginPath, http.StatusSeeOther)
		return
	case errors.Is(err, ErrRetryExhausted), errors.Is(err, ErrRetryInFlight):
		http.Redirect(w, r, withView(next, viewID), http.StatusSeeOther)
		return
	case err != nil:
		g.logger().Error("guard: begin retry", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	refreshErr := g.Identity.RefreshSession(ctx, sess)

	// A claimed attempt is finished even when the client has gone away.
	finishCtx := context.WithoutCancel(ctx)
	if identity.IsRefreshError(refreshErr) {
		g.dismount(finishCtx, viewID, sess.ID)
		http.Redirect(w, r, g.LoginPath, http.StatusSeeOther)
		return
	}

	_, err = g.Store.Update(finishCtx, viewID, sess.ID, func(st *RetryState) error {
		return st.Finish(ticket, refreshErr)
	})
	switch {
	case errors.Is(err, ErrStaleResult), errors.Is(err, ErrUnknownView):
		g.logger().Info("guard: discard refresh result for dismounted view", slog.String("view", viewID))
		http.Redirect(w, r, g.LoginPath, http.StatusSeeOther)
		return
	case errors.Is(err, ErrAttemptSuperseded):
		g.logger().Info("guard: discard refresh result for superseded attempt", slog.String("view", viewID))
	case err != nil:
		g.logger().Error("guard: finish retry", slog.Any("error", err))
	}
	if refreshErr != nil {
		g.logger().Warn("guard: refresh attempt failed", slog.Any("error", refreshErr))
	}
	http.Redirect(w, r, withView(next, viewID), http.StatusSeeOther)
}

// Logout dismounts the denied view and clears the session unconditionally.
func (g *Gatekeeper) Logout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		g.dismount(r.Context(), r.PostFormValue("view_id"), sess.ID)
	}
	g.Identity.Logout(sess)
	http.Redirect(w, r, g.LoginPath, http.StatusSeeOther)
}

func (g *Gatekeeper) dismount(ctx context.Context, viewID, owner string) {
	if viewID == "" {
		return
	}
	_, err := g.Store.Update(ctx, viewID, owner, func(st *RetryState) error {
		st.Dismount()
		return nil
	})
	if err != nil && !errors.Is(err, ErrUnknownView) {
		g.logger().Warn("guard: dismount view", slog.Any("error", err))
	}
}

func (g *Gatekeeper) loginURL(r *http.Request) string {
	if r.Method != http.MethodGet {
		return g.LoginPath
	}
	return g.LoginPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
}

func (g *Gatekeeper) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

func withView(next, viewID string) string {
	u, err := url.Parse(next)
	if err != nil {
		return next
	}
	q := u.Query()
	q.Set("view", viewID)
	u.RawQuery = q.Encode()
	return u.String()
}
