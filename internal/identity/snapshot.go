package identity

import (
	"context"
	"net/http"

	"github.com/claimdesk/claimdesk/internal/authz"
)

// Snapshot is an immutable view of the session identity taken once per
// request. The zero Snapshot is unresolved (loading).
type Snapshot struct {
	actor    *Actor
	resolved bool
}

// Anonymous is a resolved snapshot with no actor.
func Anonymous() Snapshot {
	return Snapshot{resolved: true}
}

// AuthenticatedAs returns a resolved snapshot for actor. The actor is copied.
func AuthenticatedAs(actor Actor) Snapshot {
	return Snapshot{actor: &actor, resolved: true}
}

// Loading reports whether the identity has not been resolved yet.
func (s Snapshot) Loading() bool { return !s.resolved }

// Authenticated reports whether the snapshot resolved to an actor.
func (s Snapshot) Authenticated() bool { return s.resolved && s.actor != nil }

// Actor returns a copy of the actor, if any.
func (s Snapshot) Actor() (Actor, bool) {
	if !s.Authenticated() {
		return Actor{}, false
	}
	return *s.actor, true
}

// GetID implements authz.Principal.
func (s Snapshot) GetID() int64 { return s.actor.GetID() }

// GetRole implements authz.Principal. Unresolved snapshots carry no role.
func (s Snapshot) GetRole() authz.Role {
	if !s.Authenticated() {
		return ""
	}
	return s.actor.Role
}

// DisplayName returns the actor's name or an empty string.
func (s Snapshot) DisplayName() string { return s.actor.DisplayName() }

type snapshotContextKey struct{}

// ContextWithSnapshot stores the snapshot in context.
func ContextWithSnapshot(ctx context.Context, snap Snapshot) context.Context {
	return context.WithValue(ctx, snapshotContextKey{}, snap)
}

// SnapshotFromContext returns the request snapshot, unresolved when absent.
func SnapshotFromContext(ctx context.Context) Snapshot {
	snap, _ := ctx.Value(snapshotContextKey{}).(Snapshot)
	return snap
}

// PrincipalFromRequest adapts the request snapshot for authz.Middleware.
func PrincipalFromRequest(r *http.Request) authz.Principal {
	return SnapshotFromContext(r.Context())
}
