package authz

// Principal describes the actor whose capabilities are being evaluated.
type Principal interface {
	GetID() int64
	GetRole() Role
}

// roleOf returns the principal's role and whether it may be evaluated at all.
// Nil principals and principals carrying an unknown role are denied.
func roleOf(p Principal) (Role, bool) {
	if p == nil {
		return "", false
	}
	role := p.GetRole()
	if !role.Valid() {
		return "", false
	}
	return role, true
}

// HasRole reports whether the principal holds exactly role.
func HasRole(p Principal, role Role) bool {
	r, ok := roleOf(p)
	return ok && r == role
}

// HasAnyRole reports whether the principal holds one of roles.
func HasAnyRole(p Principal, roles ...Role) bool {
	r, ok := roleOf(p)
	if !ok {
		return false
	}
	for _, candidate := range roles {
		if r == candidate {
			return true
		}
	}
	return false
}

// HasMinimumRole reports whether the principal ranks at or above min.
func HasMinimumRole(p Principal, min Role) bool {
	r, ok := roleOf(p)
	return ok && r.AtLeast(min)
}

// HasPermission reports whether the principal's role grants perm.
func HasPermission(p Principal, perm Permission) bool {
	r, ok := roleOf(p)
	return ok && r.Has(perm)
}

// HasAnyPermission reports whether the principal's role grants one of perms.
func HasAnyPermission(p Principal, perms ...Permission) bool {
	r, ok := roleOf(p)
	return ok && r.HasAny(perms...)
}

// HasAllPermissions reports whether the principal's role grants all of perms.
// An empty perms list is vacuously satisfied for a resolved principal, but a
// nil or invalid principal is denied even then.
func HasAllPermissions(p Principal, perms ...Permission) bool {
	r, ok := roleOf(p)
	return ok && r.HasAll(perms...)
}

// CanManageRole reports whether the principal strictly outranks target.
func CanManageRole(p Principal, target Role) bool {
	r, ok := roleOf(p)
	return ok && r.CanManage(target)
}

// CanPerformAction reports whether the principal may perform action on
// resource. Pairs that do not name a catalog permission are denied.
func CanPerformAction(p Principal, action, resource string) bool {
	perm, err := PermissionFor(action, resource)
	if err != nil {
		return false
	}
	return HasPermission(p, perm)
}
