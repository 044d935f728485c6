package authz

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogIsClosed(t *testing.T) {
	perms := Catalog()
	require.Len(t, perms, 17)

	seen := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		_, dup := seen[p]
		require.False(t, dup, "duplicate permission %s", p)
		seen[p] = struct{}{}
		require.True(t, p.Valid())
	}

	_, err := ParsePermission("launch_rockets")
	assert.True(t, errors.Is(err, ErrUnknownPermission))
}

func TestPermissionsForRoles(t *testing.T) {
	assert.Equal(t, []Permission{ReadUsers}, PermissionsFor(RoleUser))
	assert.ElementsMatch(t, []Permission{
		ReadUsers, WriteUsers, ReadCompanies, WriteCompanies, DeleteCompanies, ReadAuditLogs,
	}, PermissionsFor(RoleAdmin))
	assert.ElementsMatch(t, Catalog(), PermissionsFor(RoleSuperAdmin))

	unknown := PermissionsFor(Role("guest"))
	assert.NotNil(t, unknown)
	assert.Empty(t, unknown)
}

func TestPermissionsForReturnsCopy(t *testing.T) {
	perms := PermissionsFor(RoleUser)
	perms[0] = BackupRestore
	assert.False(t, RoleUser.Has(BackupRestore))
	assert.Equal(t, ReadUsers, PermissionsFor(RoleUser)[0])
}

func TestPermissionsAreMonotonicInRank(t *testing.T) {
	roles := Roles()
	for i := 1; i < len(roles); i++ {
		lower, higher := roles[i-1], roles[i]
		for _, p := range PermissionsFor(lower) {
			assert.True(t, higher.Has(p), "%s lacks %s held by %s", higher, p, lower)
		}
	}
}

func TestAdminLacksUserAndSuperAdminManagement(t *testing.T) {
	assert.False(t, RoleAdmin.Has(DeleteUsers))
	assert.False(t, RoleAdmin.Has(WriteSuperAdmins))
	assert.False(t, RoleAdmin.Has(ManageRoles))
	assert.True(t, RoleAdmin.Has(DeleteCompanies))
}

func TestHasAnyHasAllEmpty(t *testing.T) {
	for _, r := range Roles() {
		assert.True(t, r.HasAll(), "%s HasAll()", r)
		assert.False(t, r.HasAny(), "%s HasAny()", r)
	}
}

func TestHasAnyHasAll(t *testing.T) {
	assert.True(t, RoleAdmin.HasAny(DeleteUsers, ReadUsers))
	assert.False(t, RoleAdmin.HasAll(DeleteUsers, ReadUsers))
	assert.True(t, RoleSuperAdmin.HasAll(Catalog()...))
	assert.False(t, RoleUser.HasAny(WriteUsers, DeleteUsers))
}

func TestPermissionFor(t *testing.T) {
	p, err := PermissionFor("read", "super_admins")
	require.NoError(t, err)
	assert.Equal(t, ReadSuperAdmins, p)

	_, err = PermissionFor("fly", "users")
	assert.ErrorIs(t, err, ErrUnknownPermission)
	_, err = PermissionFor("", "users")
	assert.ErrorIs(t, err, ErrUnknownPermission)
}

func TestPermissionSplit(t *testing.T) {
	action, resource := ReadSystemSettings.Split()
	assert.Equal(t, "read", action)
	assert.Equal(t, "system_settings", resource)

	for _, p := range Catalog() {
		action, resource := p.Split()
		rebuilt, err := PermissionFor(action, resource)
		require.NoError(t, err)
		assert.Equal(t, p, rebuilt)
	}
}
