package authz

import (
	"log/slog"
	"net/http"

	"github.com/claimdesk/claimdesk/internal/platform/httpx"
)

// DecisionRecorder observes gate outcomes.
type DecisionRecorder interface {
	ObserveDecision(gate string, allowed bool)
}

// Middleware gates HTTP handlers on the principal attached to the request.
type Middleware struct {
	Principal func(*http.Request) Principal
	Enforcer  *Enforcer
	Recorder  DecisionRecorder
	Logger    *slog.Logger
}

// Require allows the request through when req is satisfied.
func (m Middleware) Require(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed := req.Allows(m.principal(r))
			m.observe("action", allowed)
			if !allowed {
				m.deny(w, r, req.String())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAny ensures the current actor has at least one of perms.
func (m Middleware) RequireAny(perms ...Permission) func(http.Handler) http.Handler {
	return m.Require(NeedAnyPermission(perms...))
}

// RequireAll ensures the current actor has every one of perms.
func (m Middleware) RequireAll(perms ...Permission) func(http.Handler) http.Handler {
	return m.Require(NeedAllPermissions(perms...))
}

// RequireAction checks <action>_<resource> through the casbin enforcer.
func (m Middleware) RequireAction(action, resource string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.Enforcer == nil {
				m.logError("authz enforcer missing", nil)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			allowed, err := m.Enforcer.EnforcePrincipal(m.principal(r), resource, action)
			if err != nil {
				m.logError("authz enforce", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			m.observe("enforcer", allowed)
			if !allowed {
				m.deny(w, r, action+"_"+resource)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) principal(r *http.Request) Principal {
	if m.Principal == nil {
		return nil
	}
	return m.Principal(r)
}

func (m Middleware) observe(gate string, allowed bool) {
	if m.Recorder != nil {
		m.Recorder.ObserveDecision(gate, allowed)
	}
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, need string) {
	if m.Logger != nil {
		m.Logger.Info("authz denied", slog.String("path", r.URL.Path), slog.String("need", need))
	}
	if httpx.WantsJSON(r) {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "requires "+need)
		return
	}
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}

func (m Middleware) logError(msg string, err error) {
	if m.Logger != nil {
		m.Logger.Error(msg, slog.Any("error", err))
	}
}
