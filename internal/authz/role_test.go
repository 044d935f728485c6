package authz

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	role, err := ParseRole(" Super_Admin ")
	if err != nil {
		t.Fatalf("parse role: %v", err)
	}
	if role != RoleSuperAdmin {
		t.Fatalf("expected super_admin, got %q", role)
	}

	if _, err := ParseRole("owner"); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestRoleRank(t *testing.T) {
	assert.Equal(t, 1, RoleUser.Rank())
	assert.Equal(t, 2, RoleAdmin.Rank())
	assert.Equal(t, 3, RoleSuperAdmin.Rank())
	assert.Equal(t, 0, Role("guest").Rank())
}

func TestRoleAtLeast(t *testing.T) {
	for _, r := range Roles() {
		for _, min := range Roles() {
			assert.Equal(t, r.Rank() >= min.Rank(), r.AtLeast(min), "%s at least %s", r, min)
		}
	}
	assert.False(t, Role("guest").AtLeast(RoleUser))
	assert.False(t, RoleSuperAdmin.AtLeast(Role("guest")))
}

func TestRoleCanManageIsStrict(t *testing.T) {
	cases := []struct {
		actor, target Role
		want          bool
	}{
		{RoleSuperAdmin, RoleAdmin, true},
		{RoleSuperAdmin, RoleUser, true},
		{RoleSuperAdmin, RoleSuperAdmin, false},
		{RoleAdmin, RoleUser, true},
		{RoleAdmin, RoleAdmin, false},
		{RoleAdmin, RoleSuperAdmin, false},
		{RoleUser, RoleUser, false},
		{Role("guest"), RoleUser, false},
		{RoleSuperAdmin, Role("guest"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.actor.CanManage(tc.target), "%s manage %s", tc.actor, tc.target)
	}
}

func TestRoleCanManageIsAcyclic(t *testing.T) {
	for _, a := range Roles() {
		for _, b := range Roles() {
			if a.CanManage(b) && b.CanManage(a) {
				t.Fatalf("%s and %s manage each other", a, b)
			}
		}
	}
}

func TestRoleDisplayName(t *testing.T) {
	assert.Equal(t, "Super Admin", RoleSuperAdmin.DisplayName())
	assert.Equal(t, "Admin", RoleAdmin.DisplayName())
	assert.Equal(t, "Unknown", Role("").DisplayName())
}
