package authz

import (
	"errors"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrUnknownRole is returned when a role name is outside the closed role set.
var ErrUnknownRole = errors.New("authz: unknown role")

// Role names a tier of the administrative hierarchy.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

var roleRanks = map[Role]int{
	RoleUser:       1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// Roles lists every role from lowest to highest rank.
func Roles() []Role {
	return []Role{RoleUser, RoleAdmin, RoleSuperAdmin}
}

// ParseRole converts raw input into a Role.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", ErrUnknownRole
	}
	return role, nil
}

// Valid reports whether the role belongs to the closed set.
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// Rank returns the hierarchy level of the role, 0 for unknown roles.
func (r Role) Rank() int {
	return roleRanks[r]
}

// AtLeast reports whether r is ranked at or above min.
func (r Role) AtLeast(min Role) bool {
	if !r.Valid() || !min.Valid() {
		return false
	}
	return r.Rank() >= min.Rank()
}

// CanManage reports whether r strictly outranks target. Peers cannot manage
// each other, so a super_admin cannot manage another super_admin.
func (r Role) CanManage(target Role) bool {
	if !r.Valid() || !target.Valid() {
		return false
	}
	return r.Rank() > target.Rank()
}

// DisplayName renders the role for people, e.g. "Super Admin".
func (r Role) DisplayName() string {
	if !r.Valid() {
		return "Unknown"
	}
	return cases.Title(language.English).String(strings.ReplaceAll(string(r), "_", " "))
}

func (r Role) String() string {
	return string(r)
}
