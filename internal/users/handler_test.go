package users_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimdesk/claimdesk/internal/authz"
	"github.com/claimdesk/claimdesk/internal/shared"
	"github.com/claimdesk/claimdesk/internal/testing/webtest"
	"github.com/claimdesk/claimdesk/internal/users"
)

type stubRepo struct {
	users   []users.User
	created []users.CreateInput
	deleted []int64
}

func (s *stubRepo) ListUsers(ctx context.Context, filter users.ListFilter) ([]users.User, int, error) {
	var out []users.User
	for _, u := range s.users {
		hidden := false
		for _, r := range filter.HideRoles {
			hidden = hidden || u.Role == r
		}
		if !hidden {
			out = append(out, u)
		}
	}
	return out, len(out), nil
}

func (s *stubRepo) GetUser(ctx context.Context, id int64) (users.User, error) {
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return users.User{}, shared.ErrNotFound
}

func (s *stubRepo) GetUsers(ctx context.Context, ids []int64) ([]users.User, error) {
	var out []users.User
	for _, id := range ids {
		if u, err := s.GetUser(ctx, id); err == nil {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *stubRepo) CreateUser(ctx context.Context, in users.CreateInput) (users.User, error) {
	s.created = append(s.created, in)
	return users.User{ID: 50, FullName: in.FullName, Role: in.Role}, nil
}

func (s *stubRepo) DeleteUsers(ctx context.Context, ids []int64) (int64, error) {
	s.deleted = append(s.deleted, ids...)
	return int64(len(ids)), nil
}

type gateLog struct {
	gates []string
}

func (g *gateLog) ObserveDecision(gate string, allowed bool) {
	g.gates = append(g.gates, fmt.Sprintf("%s:%t", gate, allowed))
}

type harness struct {
	env    *webtest.Env
	repo   *stubRepo
	router http.Handler
	gates  *gateLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	env := webtest.New(t)
	gates := &gateLog{}
	env.Authz.Recorder = gates
	repo := &stubRepo{users: []users.User{
		{ID: 1, FullName: "Root Person", PhoneNumber: "+1000", Role: authz.RoleSuperAdmin, IsActive: true},
		{ID: 2, FullName: "Ada Admin", PhoneNumber: "+2000", Role: authz.RoleAdmin, IsActive: true},
		{ID: 3, FullName: "Uma User", PhoneNumber: "+3000", Role: authz.RoleUser, IsActive: true},
	}}
	h := users.NewHandler(nil, users.NewService(repo, nil, nil), env.Templates, env.CSRF, env.Gate, env.Authz)
	r := chi.NewRouter()
	r.Route("/users", h.MountRoutes)
	return &harness{env: env, repo: repo, router: r, gates: gates}
}

func (h *harness) do(t *testing.T, method, target string, form url.Values, role authz.Role) (int, string) {
	t.Helper()
	actor := webtest.Actor(99, role)
	res := webtest.Serve(h.router, h.env.Request(t, method, target, form, &actor)).Result()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(data)
}

func TestAdminListHidesSuperAdmins(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodGet, "/users", nil, authz.RoleAdmin)

	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Ada Admin")
	assert.Contains(t, body, "Uma User")
	assert.NotContains(t, body, "Root Person")
	assert.NotContains(t, body, "Delete selected")
	assert.Contains(t, body, "Add user")
}

func TestSuperAdminListShowsEveryone(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodGet, "/users", nil, authz.RoleSuperAdmin)

	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Root Person")
	assert.Contains(t, body, "Delete selected")
	assert.Contains(t, body, `action="/users/2/delete"`)
	assert.NotContains(t, body, `action="/users/1/delete"`)
}

func TestUserRoleIsDeniedThePage(t *testing.T) {
	h := newHarness(t)

	status, _ := h.do(t, http.MethodGet, "/users", nil, authz.RoleUser)

	assert.Equal(t, http.StatusForbidden, status)
}

func TestShowHiddenUserIsNotFound(t *testing.T) {
	h := newHarness(t)

	status, _ := h.do(t, http.MethodGet, "/users/1", nil, authz.RoleAdmin)
	assert.Equal(t, http.StatusNotFound, status)

	status, body := h.do(t, http.MethodGet, "/users/3", nil, authz.RoleAdmin)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "&#43;3000")
}

func TestCreateUser(t *testing.T) {
	h := newHarness(t)
	form := url.Values{"phone_number": {"+5550001"}, "full_name": {"New Person"}, "role": {"user"}}

	status, _ := h.do(t, http.MethodPost, "/users", form, authz.RoleAdmin)

	assert.Equal(t, http.StatusSeeOther, status)
	require.Len(t, h.repo.created, 1)
	assert.Equal(t, authz.RoleUser, h.repo.created[0].Role)
}

func TestCreateUserRejectsPeerRole(t *testing.T) {
	h := newHarness(t)
	form := url.Values{"phone_number": {"+5550001"}, "full_name": {"New Admin"}, "role": {"admin"}}

	status, body := h.do(t, http.MethodPost, "/users", form, authz.RoleAdmin)

	assert.Equal(t, http.StatusForbidden, status)
	assert.Contains(t, body, "You cannot create a Admin.")
	assert.Empty(t, h.repo.created)
}

func TestCreateUserValidation(t *testing.T) {
	h := newHarness(t)
	form := url.Values{"phone_number": {"1"}, "full_name": {""}, "role": {"owner"}}

	status, body := h.do(t, http.MethodPost, "/users", form, authz.RoleSuperAdmin)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "Invalid phone number.")
	assert.Contains(t, body, "Invalid role.")
	assert.Empty(t, h.repo.created)
}

func TestDeleteRequiresDeleteUsers(t *testing.T) {
	h := newHarness(t)

	status, _ := h.do(t, http.MethodPost, "/users/3/delete", url.Values{}, authz.RoleAdmin)

	assert.Equal(t, http.StatusForbidden, status)
	assert.Empty(t, h.repo.deleted)
}

func TestMutatingRoutesGoThroughEnforcer(t *testing.T) {
	h := newHarness(t)

	status, _ := h.do(t, http.MethodPost, "/users/3/delete", url.Values{}, authz.RoleAdmin)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, []string{"enforcer:false"}, h.gates.gates)

	h.gates.gates = nil
	status, _ = h.do(t, http.MethodPost, "/users/bulk-delete", url.Values{"ids": {"3"}}, authz.RoleSuperAdmin)
	assert.Equal(t, http.StatusSeeOther, status)
	assert.Equal(t, []string{"enforcer:true"}, h.gates.gates)
}

func TestMutatingRoutesFailClosedWithoutEnforcer(t *testing.T) {
	env := webtest.New(t)
	env.Authz.Enforcer = nil
	repo := &stubRepo{users: []users.User{{ID: 3, FullName: "Uma User", Role: authz.RoleUser, IsActive: true}}}
	h := users.NewHandler(nil, users.NewService(repo, nil, nil), env.Templates, env.CSRF, env.Gate, env.Authz)
	r := chi.NewRouter()
	r.Route("/users", h.MountRoutes)
	actor := webtest.Actor(99, authz.RoleSuperAdmin)

	res := webtest.Serve(r, env.Request(t, http.MethodPost, "/users/3/delete", url.Values{}, &actor))

	assert.Equal(t, http.StatusInternalServerError, res.Code)
	assert.Empty(t, repo.deleted)
}

func TestDeleteRequiresHigherRank(t *testing.T) {
	h := newHarness(t)

	status, _ := h.do(t, http.MethodPost, "/users/1/delete", url.Values{}, authz.RoleSuperAdmin)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = h.do(t, http.MethodPost, "/users/2/delete", url.Values{}, authz.RoleSuperAdmin)
	assert.Equal(t, http.StatusSeeOther, status)
	assert.Equal(t, []int64{2}, h.repo.deleted)
}

func TestBulkDelete(t *testing.T) {
	h := newHarness(t)
	form := url.Values{"ids": {"1", "2", "3"}}

	status, _ := h.do(t, http.MethodPost, "/users/bulk-delete", form, authz.RoleSuperAdmin)

	assert.Equal(t, http.StatusSeeOther, status)
	assert.Equal(t, []int64{2, 3}, h.repo.deleted)
}

func TestBulkDeleteRejectsBadIDs(t *testing.T) {
	h := newHarness(t)

	status, _ := h.do(t, http.MethodPost, "/users/bulk-delete", url.Values{"ids": {"x"}}, authz.RoleSuperAdmin)

	assert.Equal(t, http.StatusBadRequest, status)
}
