package companies_test

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimdesk/claimdesk/internal/audit"
	"github.com/claimdesk/claimdesk/internal/authz"
	"github.com/claimdesk/claimdesk/internal/companies"
	"github.com/claimdesk/claimdesk/internal/shared"
	"github.com/claimdesk/claimdesk/internal/testing/webtest"
)

type memRepo struct {
	rows   map[int64]companies.Company
	nextID int64
}

func newMemRepo() *memRepo {
	return &memRepo{nextID: 3, rows: map[int64]companies.Company{
		1: {ID: 1, Name: "Acme Corp", Employees: 150, Status: companies.StatusActive, Revenue: 2100000},
		2: {ID: 2, Name: "Global Solutions", Employees: 230, Status: companies.StatusInactive, Revenue: 3400000},
	}}
}

func (m *memRepo) ListCompanies(ctx context.Context, search string) ([]companies.Company, error) {
	var out []companies.Company
	for _, c := range m.rows {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memRepo) GetCompany(ctx context.Context, id int64) (companies.Company, error) {
	c, ok := m.rows[id]
	if !ok {
		return companies.Company{}, shared.ErrNotFound
	}
	return c, nil
}

func (m *memRepo) CreateCompany(ctx context.Context, in companies.Input) (companies.Company, error) {
	for _, c := range m.rows {
		if c.Name == in.Name {
			return companies.Company{}, companies.ErrDuplicateName
		}
	}
	m.nextID++
	c := companies.Company{ID: m.nextID, Name: in.Name, Employees: in.Employees, Status: in.Status, Revenue: in.Revenue}
	m.rows[c.ID] = c
	return c, nil
}

func (m *memRepo) UpdateCompany(ctx context.Context, id int64, in companies.Input) (companies.Company, error) {
	if _, ok := m.rows[id]; !ok {
		return companies.Company{}, shared.ErrNotFound
	}
	c := companies.Company{ID: id, Name: in.Name, Employees: in.Employees, Status: in.Status, Revenue: in.Revenue}
	m.rows[id] = c
	return c, nil
}

func (m *memRepo) DeleteCompany(ctx context.Context, id int64) error {
	if _, ok := m.rows[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

type sink struct{ entries []audit.Entry }

func (s *sink) Record(ctx context.Context, e audit.Entry) error {
	s.entries = append(s.entries, e)
	return nil
}

type harness struct {
	env    *webtest.Env
	repo   *memRepo
	audit  *sink
	router http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	env := webtest.New(t)
	repo := newMemRepo()
	rec := &sink{}
	h := companies.NewHandler(nil, companies.NewService(repo, rec, nil), env.Templates, env.CSRF, env.Gate, env.Authz)
	r := chi.NewRouter()
	r.Route("/companies", h.MountRoutes)
	return &harness{env: env, repo: repo, audit: rec, router: r}
}

func (h *harness) do(t *testing.T, method, target string, form url.Values, role authz.Role) (int, string) {
	t.Helper()
	actor := webtest.Actor(7, role)
	res := webtest.Serve(h.router, h.env.Request(t, method, target, form, &actor)).Result()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(data)
}

func TestSummarize(t *testing.T) {
	svc := companies.NewService(newMemRepo(), nil, nil)

	sum, err := svc.Summarize(context.Background())

	require.NoError(t, err)
	assert.Equal(t, companies.Summary{Total: 2, Active: 1, Employees: 380}, sum)
}

func TestListRequiresReadCompanies(t *testing.T) {
	h := newHarness(t)

	status, _ := h.do(t, http.MethodGet, "/companies", nil, authz.RoleUser)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := h.do(t, http.MethodGet, "/companies", nil, authz.RoleAdmin)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Acme Corp")
	assert.Contains(t, body, "$2100000")
	assert.Contains(t, body, "Add company")
	assert.Contains(t, body, `action="/companies/1/delete"`)
}

func TestCreateCompany(t *testing.T) {
	h := newHarness(t)
	form := url.Values{"name": {" TechStart Inc "}, "employees": {"45"}, "status": {"active"}, "revenue": {"$890000"}}

	status, _ := h.do(t, http.MethodPost, "/companies", form, authz.RoleAdmin)

	assert.Equal(t, http.StatusSeeOther, status)
	c, err := h.repo.GetCompany(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, "TechStart Inc", c.Name)
	assert.Equal(t, int64(890000), c.Revenue)
	require.Len(t, h.audit.entries, 1)
	assert.Equal(t, "company", h.audit.entries[0].Entity)
	assert.Equal(t, int64(7), h.audit.entries[0].ActorID)
}

func TestCreateCompanyValidation(t *testing.T) {
	h := newHarness(t)
	form := url.Values{"name": {""}, "employees": {"many"}, "status": {"closed"}}

	status, body := h.do(t, http.MethodPost, "/companies", form, authz.RoleAdmin)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "Invalid name.")
	assert.Contains(t, body, "Employees must be a whole number.")
	assert.Contains(t, body, "Invalid status.")
	assert.Len(t, h.repo.rows, 2)
}

func TestCreateCompanyDuplicateName(t *testing.T) {
	h := newHarness(t)
	form := url.Values{"name": {"Acme Corp"}, "status": {"active"}}

	status, body := h.do(t, http.MethodPost, "/companies", form, authz.RoleAdmin)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "A company with this name already exists.")
}

func TestUpdateCompany(t *testing.T) {
	h := newHarness(t)
	form := url.Values{"name": {"Acme Corporation"}, "employees": {"160"}, "status": {"inactive"}, "revenue": {"2200000"}}

	status, _ := h.do(t, http.MethodPost, "/companies/1", form, authz.RoleAdmin)

	assert.Equal(t, http.StatusSeeOther, status)
	assert.Equal(t, companies.StatusInactive, h.repo.rows[1].Status)
	assert.Equal(t, "Acme Corporation", h.repo.rows[1].Name)
}

func TestUpdateMissingCompany(t *testing.T) {
	h := newHarness(t)
	form := url.Values{"name": {"Ghost"}, "status": {"active"}}

	status, _ := h.do(t, http.MethodPost, "/companies/99", form, authz.RoleAdmin)

	assert.Equal(t, http.StatusNotFound, status)
}

func TestDeleteCompany(t *testing.T) {
	h := newHarness(t)

	status, _ := h.do(t, http.MethodPost, "/companies/2/delete", url.Values{}, authz.RoleAdmin)

	assert.Equal(t, http.StatusSeeOther, status)
	assert.NotContains(t, h.repo.rows, int64(2))
	require.Len(t, h.audit.entries, 1)
	assert.Equal(t, "delete", h.audit.entries[0].Action)
}

func TestShowCompany(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodGet, "/companies/2", nil, authz.RoleSuperAdmin)

	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Global Solutions")
	assert.Contains(t, body, `action="/companies/2"`)
}
