package authz

import (
	"errors"
	"strings"
)

// ErrUnknownPermission is returned when a permission name is not in the catalog.
var ErrUnknownPermission = errors.New("authz: unknown permission")

// Permission names a single capability in the form <action>_<resource>.
type Permission string

// Permission catalog.
const (
	ReadUsers   Permission = "read_users"
	WriteUsers  Permission = "write_users"
	DeleteUsers Permission = "delete_users"

	ReadCompanies   Permission = "read_companies"
	WriteCompanies  Permission = "write_companies"
	DeleteCompanies Permission = "delete_companies"

	ReadSuperAdmins   Permission = "read_super_admins"
	WriteSuperAdmins  Permission = "write_super_admins"
	DeleteSuperAdmins Permission = "delete_super_admins"

	ReadSystemSettings  Permission = "read_system_settings"
	WriteSystemSettings Permission = "write_system_settings"

	ReadAuditLogs  Permission = "read_audit_logs"
	WriteAuditLogs Permission = "write_audit_logs"

	ManageRoles       Permission = "manage_roles"
	ManagePermissions Permission = "manage_permissions"
	SystemMaintenance Permission = "system_maintenance"
	BackupRestore     Permission = "backup_restore"
)

var catalog = []Permission{
	ReadUsers, WriteUsers, DeleteUsers,
	ReadCompanies, WriteCompanies, DeleteCompanies,
	ReadSuperAdmins, WriteSuperAdmins, DeleteSuperAdmins,
	ReadSystemSettings, WriteSystemSettings,
	ReadAuditLogs, WriteAuditLogs,
	ManageRoles, ManagePermissions, SystemMaintenance, BackupRestore,
}

var rolePermissions = map[Role][]Permission{
	RoleUser: {ReadUsers},
	RoleAdmin: {
		ReadUsers, WriteUsers,
		ReadCompanies, WriteCompanies, DeleteCompanies,
		ReadAuditLogs,
	},
	RoleSuperAdmin: catalog,
}

var roleSets = buildRoleSets()

func buildRoleSets() map[Role]map[Permission]struct{} {
	sets := make(map[Role]map[Permission]struct{}, len(rolePermissions))
	for role, perms := range rolePermissions {
		set := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		sets[role] = set
	}
	return sets
}

// Catalog returns every known permission in declaration order.
func Catalog() []Permission {
	out := make([]Permission, len(catalog))
	copy(out, catalog)
	return out
}

// ParsePermission converts raw input into a catalog Permission.
func ParsePermission(raw string) (Permission, error) {
	p := Permission(strings.ToLower(strings.TrimSpace(raw)))
	if !p.Valid() {
		return "", ErrUnknownPermission
	}
	return p, nil
}

// Valid reports whether p is part of the catalog.
func (p Permission) Valid() bool {
	_, ok := roleSets[RoleSuperAdmin][p]
	return ok
}

// Split separates the permission into its action and resource halves.
func (p Permission) Split() (action, resource string) {
	action, resource, _ = strings.Cut(string(p), "_")
	return action, resource
}

func (p Permission) String() string {
	return string(p)
}

// PermissionFor builds the permission for an action on a resource, e.g.
// ("delete", "users") yields delete_users.
func PermissionFor(action, resource string) (Permission, error) {
	action = strings.TrimSpace(action)
	resource = strings.TrimSpace(resource)
	if action == "" || resource == "" {
		return "", ErrUnknownPermission
	}
	return ParsePermission(action + "_" + resource)
}

// PermissionsFor returns the permissions granted to role. Unknown roles get
// an empty set.
func PermissionsFor(role Role) []Permission {
	perms := rolePermissions[role]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// Has reports whether the role grants p.
func (r Role) Has(p Permission) bool {
	_, ok := roleSets[r][p]
	return ok
}

// HasAny reports whether the role grants at least one of perms. An empty
// list is never satisfied.
func (r Role) HasAny(perms ...Permission) bool {
	for _, p := range perms {
		if r.Has(p) {
			return true
		}
	}
	return false
}

// HasAll reports whether the role grants every one of perms. An empty list
// is vacuously satisfied.
func (r Role) HasAll(perms ...Permission) bool {
	for _, p := range perms {
		if !r.Has(p) {
			return false
		}
	}
	return true
}
