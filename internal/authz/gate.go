package authz

import "strings"

// Requirement describes what a gate demands of a principal. When several
// fields are set only the first applicable one is consulted, in the order
// Permission, Permissions, Role, Roles, MinimumRole. A zero Requirement
// grants nothing.
type Requirement struct {
	Permission  Permission
	Permissions []Permission
	RequireAll  bool
	Role        Role
	Roles       []Role
	MinimumRole Role
}

// NeedPermission requires a single permission.
func NeedPermission(p Permission) Requirement {
	return Requirement{Permission: p}
}

// NeedAnyPermission requires at least one of perms.
func NeedAnyPermission(perms ...Permission) Requirement {
	return Requirement{Permissions: append([]Permission{}, perms...)}
}

// NeedAllPermissions requires every one of perms.
func NeedAllPermissions(perms ...Permission) Requirement {
	return Requirement{Permissions: append([]Permission{}, perms...), RequireAll: true}
}

// NeedRole requires exactly role.
func NeedRole(role Role) Requirement {
	return Requirement{Role: role}
}

// NeedAnyRole requires one of roles.
func NeedAnyRole(roles ...Role) Requirement {
	return Requirement{Roles: append([]Role{}, roles...)}
}

// NeedMinimumRole requires a role ranked at or above min.
func NeedMinimumRole(min Role) Requirement {
	return Requirement{MinimumRole: min}
}

// IsZero reports whether no condition is set.
func (req Requirement) IsZero() bool {
	return req.Permission == "" && req.Permissions == nil && req.Role == "" &&
		req.Roles == nil && req.MinimumRole == ""
}

// Allows evaluates the requirement against p.
func (req Requirement) Allows(p Principal) bool {
	switch {
	case req.Permission != "":
		return HasPermission(p, req.Permission)
	case req.Permissions != nil:
		if req.RequireAll {
			return HasAllPermissions(p, req.Permissions...)
		}
		return HasAnyPermission(p, req.Permissions...)
	case req.Role != "":
		return HasRole(p, req.Role)
	case req.Roles != nil:
		return HasAnyRole(p, req.Roles...)
	case req.MinimumRole != "":
		return HasMinimumRole(p, req.MinimumRole)
	default:
		return false
	}
}

// String renders the requirement for logs and the access-denied view.
func (req Requirement) String() string {
	switch {
	case req.Permission != "":
		return "permission " + string(req.Permission)
	case req.Permissions != nil:
		names := make([]string, len(req.Permissions))
		for i, p := range req.Permissions {
			names[i] = string(p)
		}
		joiner := " or "
		if req.RequireAll {
			joiner = " and "
		}
		return "permissions " + strings.Join(names, joiner)
	case req.Role != "":
		return "role " + req.Role.DisplayName()
	case req.Roles != nil:
		names := make([]string, len(req.Roles))
		for i, r := range req.Roles {
			names[i] = r.DisplayName()
		}
		return "one of roles " + strings.Join(names, ", ")
	case req.MinimumRole != "":
		return "at least " + req.MinimumRole.DisplayName()
	default:
		return "nothing"
	}
}

// Gate evaluates req against p and invokes exactly one branch. The allowed
// branch is never invoked for a denied principal. A nil fallback yields the
// zero value of T.
func Gate[T any](p Principal, req Requirement, allowed, fallback func() T) T {
	if req.Allows(p) {
		return allowed()
	}
	if fallback == nil {
		var zero T
		return zero
	}
	return fallback()
}
