package users

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimdesk/claimdesk/internal/audit"
	"github.com/claimdesk/claimdesk/internal/authz"
	"github.com/claimdesk/claimdesk/internal/shared"
)

type principal struct {
	id   int64
	role authz.Role
}

func (p principal) GetID() int64        { return p.id }
func (p principal) GetRole() authz.Role { return p.role }

type memRepo struct {
	users   map[int64]User
	filter  ListFilter
	deleted []int64
	nextID  int64
}

func newMemRepo(users ...User) *memRepo {
	r := &memRepo{users: map[int64]User{}, nextID: 100}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *memRepo) ListUsers(ctx context.Context, filter ListFilter) ([]User, int, error) {
	r.filter = filter
	var out []User
	for _, u := range r.users {
		out = append(out, u)
	}
	return out, len(out), nil
}

func (r *memRepo) GetUser(ctx context.Context, id int64) (User, error) {
	u, ok := r.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return u, nil
}

func (r *memRepo) GetUsers(ctx context.Context, ids []int64) ([]User, error) {
	var out []User
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *memRepo) CreateUser(ctx context.Context, in CreateInput) (User, error) {
	for _, u := range r.users {
		if u.PhoneNumber == in.PhoneNumber {
			return User{}, ErrDuplicatePhone
		}
	}
	r.nextID++
	u := User{ID: r.nextID, PhoneNumber: in.PhoneNumber, FullName: in.FullName, Role: in.Role, IsActive: true}
	r.users[u.ID] = u
	return u, nil
}

func (r *memRepo) DeleteUsers(ctx context.Context, ids []int64) (int64, error) {
	for _, id := range ids {
		delete(r.users, id)
	}
	r.deleted = append(r.deleted, ids...)
	return int64(len(ids)), nil
}

type recorder struct{ entries []audit.Entry }

func (r *recorder) Record(ctx context.Context, e audit.Entry) error {
	r.entries = append(r.entries, e)
	return nil
}

var (
	superAdmin = principal{id: 1, role: authz.RoleSuperAdmin}
	admin      = principal{id: 2, role: authz.RoleAdmin}
	member     = principal{id: 3, role: authz.RoleUser}
)

func seeded() *memRepo {
	return newMemRepo(
		User{ID: 1, FullName: "Root", PhoneNumber: "+1000", Role: authz.RoleSuperAdmin},
		User{ID: 2, FullName: "Ada", PhoneNumber: "+2000", Role: authz.RoleAdmin},
		User{ID: 3, FullName: "Uma", PhoneNumber: "+3000", Role: authz.RoleUser},
		User{ID: 4, FullName: "Otto", PhoneNumber: "+4000", Role: authz.RoleUser},
	)
}

func TestVisibility(t *testing.T) {
	tests := []struct {
		name  string
		actor authz.Principal
		want  ListFilter
	}{
		{"super admin sees all", superAdmin, ListFilter{}},
		{"admin hides super admins", admin, ListFilter{HideRoles: []authz.Role{authz.RoleSuperAdmin}}},
		{"user sees self", member, ListFilter{OnlyID: 3}},
		{"unknown role sees self", principal{id: 9, role: "owner"}, ListFilter{OnlyID: 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Visibility(tt.actor, ListFilter{}))
		})
	}
}

func TestListUsersAppliesVisibilityAndPaging(t *testing.T) {
	repo := seeded()
	svc := NewService(repo, nil, nil)

	_, page, err := svc.ListUsers(context.Background(), admin, ListFilter{Query: "a"}, shared.NewPagination(2, 10, 0))
	require.NoError(t, err)

	assert.Equal(t, ListFilter{Query: "a", HideRoles: []authz.Role{authz.RoleSuperAdmin}, Limit: 10, Offset: 10}, repo.filter)
	assert.Equal(t, 4, page.Total)
}

func TestGetUserHidesSuperAdminsFromAdmins(t *testing.T) {
	svc := NewService(seeded(), nil, nil)

	_, err := svc.GetUser(context.Background(), admin, 1)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	u, err := svc.GetUser(context.Background(), superAdmin, 1)
	require.NoError(t, err)
	assert.Equal(t, "Root", u.FullName)

	_, err = svc.GetUser(context.Background(), member, 4)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateUserRequiresManageableRole(t *testing.T) {
	rec := &recorder{}
	svc := NewService(seeded(), rec, nil)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, admin, CreateInput{PhoneNumber: "+5000", FullName: "New", Role: authz.RoleAdmin})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.CreateUser(ctx, member, CreateInput{PhoneNumber: "+5000", FullName: "New", Role: authz.RoleUser})
	assert.ErrorIs(t, err, ErrForbidden)

	u, err := svc.CreateUser(ctx, admin, CreateInput{PhoneNumber: " +5000 ", FullName: "New", Role: authz.RoleUser})
	require.NoError(t, err)
	assert.Equal(t, "+5000", u.PhoneNumber)

	u, err = svc.CreateUser(ctx, superAdmin, CreateInput{PhoneNumber: "+6000", FullName: "Boss", Role: authz.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, authz.RoleAdmin, u.Role)

	_, err = svc.CreateUser(ctx, superAdmin, CreateInput{PhoneNumber: "+2000", FullName: "Dup", Role: authz.RoleUser})
	assert.ErrorIs(t, err, ErrDuplicatePhone)

	require.Len(t, rec.entries, 2)
	assert.Equal(t, "create", rec.entries[0].Action)
}

func TestDeleteUserChecksPermissionAndRank(t *testing.T) {
	ctx := context.Background()

	t.Run("admin lacks delete_users", func(t *testing.T) {
		repo := seeded()
		err := NewService(repo, nil, nil).DeleteUser(ctx, admin, 3)
		assert.ErrorIs(t, err, ErrForbidden)
		assert.Empty(t, repo.deleted)
	})

	t.Run("super admin cannot delete a peer", func(t *testing.T) {
		repo := seeded()
		repo.users[5] = User{ID: 5, Role: authz.RoleSuperAdmin}
		err := NewService(repo, nil, nil).DeleteUser(ctx, superAdmin, 5)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("super admin deletes an admin", func(t *testing.T) {
		repo := seeded()
		rec := &recorder{}
		require.NoError(t, NewService(repo, rec, nil).DeleteUser(ctx, superAdmin, 2))
		assert.Equal(t, []int64{2}, repo.deleted)
		require.Len(t, rec.entries, 1)
		assert.Equal(t, "2", rec.entries[0].EntityID)
	})

	t.Run("missing target", func(t *testing.T) {
		err := NewService(seeded(), nil, nil).DeleteUser(ctx, superAdmin, 42)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestBulkDeleteSkipsUnmanageableTargets(t *testing.T) {
	repo := seeded()
	svc := NewService(repo, &recorder{}, nil)

	res, err := svc.BulkDelete(context.Background(), superAdmin, []int64{1, 2, 3, 42})
	require.NoError(t, err)

	assert.Equal(t, []int64{2, 3}, res.Deleted)
	assert.Equal(t, []int64{1, 42}, res.Skipped)
	assert.Equal(t, []int64{2, 3}, repo.deleted)

	_, err = svc.BulkDelete(context.Background(), admin, []int64{4})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestFilterClause(t *testing.T) {
	where, args := filterClause(ListFilter{
		Query:     "ada",
		HideRoles: []authz.Role{authz.RoleSuperAdmin},
	})
	assert.True(t, strings.HasPrefix(where, " WHERE "))
	assert.Contains(t, where, "full_name ILIKE '%' || $1 || '%'")
	assert.Contains(t, where, "role <> ALL($2)")
	assert.Equal(t, []any{"ada", []string{"super_admin"}}, args)

	where, args = filterClause(ListFilter{})
	assert.Empty(t, where)
	assert.Empty(t, args)
}
