// Package guard implements the page-level access gate: evaluation of a
// request snapshot against a page policy, the access-denied view and its
// bounded session-refresh retry.
package guard

import (
	"github.com/claimdesk/claimdesk/internal/authz"
	"github.com/claimdesk/claimdesk/internal/identity"
)

// State is the outcome of evaluating a page gate.
type State int

const (
	Loading State = iota
	Authorized
	Denied
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Authorized:
		return "authorized"
	case Denied:
		return "denied"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Policy describes who may see a page. A zero Requirement means "at least
// admin". Actors holding one of AllowedRoles pass regardless of the
// requirement.
type Policy struct {
	Requirement  authz.Requirement
	AllowedRoles []authz.Role
}

// RequireRole is the common minimum-role page policy.
func RequireRole(min authz.Role) Policy {
	return Policy{Requirement: authz.NeedMinimumRole(min)}
}

// AllowRoles admits the listed roles on top of the default requirement.
func AllowRoles(roles ...authz.Role) Policy {
	return Policy{AllowedRoles: roles}
}

// RequirePermission gates a page on a single permission.
func RequirePermission(p authz.Permission) Policy {
	return Policy{Requirement: authz.NeedPermission(p)}
}

func (p Policy) requirement() authz.Requirement {
	if p.Requirement.IsZero() {
		return authz.NeedMinimumRole(authz.RoleAdmin)
	}
	return p.Requirement
}

// Allows reports whether principal passes the policy.
func (p Policy) Allows(principal authz.Principal) bool {
	if p.requirement().Allows(principal) {
		return true
	}
	return len(p.AllowedRoles) > 0 && authz.HasAnyRole(principal, p.AllowedRoles...)
}

// Describe renders what the policy demands, for the access-denied view.
func (p Policy) Describe() string {
	return p.requirement().String()
}

// Evaluate maps a snapshot onto a gate state. It has no side effects.
func Evaluate(snap identity.Snapshot, policy Policy) State {
	switch {
	case snap.Loading():
		return Loading
	case !snap.Authenticated():
		return Unauthenticated
	case policy.Allows(snap):
		return Authorized
	default:
		return Denied
	}
}
