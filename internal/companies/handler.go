package companies

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/claimdesk/claimdesk/internal/authz"
	"github.com/claimdesk/claimdesk/internal/guard"
	"github.com/claimdesk/claimdesk/internal/identity"
	"github.com/claimdesk/claimdesk/internal/shared"
	"github.com/claimdesk/claimdesk/internal/view"
)

// Handler serves the company pages.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	gate      *guard.Gatekeeper
	authz     authz.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, gate *guard.Gatekeeper, mw authz.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string { return f.Tag.Get("form") })
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, gate: gate, authz: mw, validator: v}
}

// MountRoutes registers company routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.gate.Protect(guard.RequirePermission(authz.ReadCompanies)))
	r.Get("/", h.listCompanies)
	r.Get("/{companyID}", h.showCompany)
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAction("write", "companies"))
		r.Post("/", h.createCompany)
		r.Post("/{companyID}", h.updateCompany)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAction("delete", "companies"))
		r.Post("/{companyID}/delete", h.deleteCompany)
	})
}

type formErrors map[string]string

type listPage struct {
	Companies []Company
	Search    string
	Action    string
	Form      Input
	Errors    formErrors
}

type detailPage struct {
	Company Company
	Action  string
	Form    Input
	Errors  formErrors
}

func (h *Handler) listCompanies(w http.ResponseWriter, r *http.Request) {
	h.renderList(w, r, http.StatusOK, Input{Status: StatusActive}, formErrors{})
}

func (h *Handler) renderList(w http.ResponseWriter, r *http.Request, status int, form Input, errs formErrors) {
	search := r.URL.Query().Get("q")
	companies, err := h.service.List(r.Context(), search)
	if err != nil {
		h.logger.Error("list companies", slog.Any("error", err))
		errs["general"] = shared.UserSafeMessage(err)
		status = http.StatusInternalServerError
	}
	h.render(w, r, status, "page/companies_list", "Companies", listPage{
		Companies: companies,
		Search:    search,
		Action:    "/companies",
		Form:      form,
		Errors:    errs,
	})
}

func (h *Handler) showCompany(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	company, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, "get company", err)
		return
	}
	h.render(w, r, http.StatusOK, "page/company_detail", company.Name, detailPage{
		Company: company,
		Action:  fmt.Sprintf("/companies/%d", company.ID),
		Form:    inputFrom(company),
		Errors:  formErrors{},
	})
}

func (h *Handler) createCompany(w http.ResponseWriter, r *http.Request) {
	form, errs, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	if len(errs) > 0 {
		h.renderList(w, r, http.StatusBadRequest, form, errs)
		return
	}
	company, err := h.service.Create(r.Context(), identity.SnapshotFromContext(r.Context()).GetID(), form)
	if errors.Is(err, ErrDuplicateName) {
		errs["name"] = "A company with this name already exists."
		h.renderList(w, r, http.StatusBadRequest, form, errs)
		return
	}
	if err != nil {
		h.serviceError(w, r, "create company", err)
		return
	}
	h.redirectWithFlash(w, r, "/companies", "success", "Company "+company.Name+" created.")
}

func (h *Handler) updateCompany(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	form, errs, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	if len(errs) == 0 {
		_, err := h.service.Update(r.Context(), identity.SnapshotFromContext(r.Context()).GetID(), id, form)
		if err == nil {
			h.redirectWithFlash(w, r, fmt.Sprintf("/companies/%d", id), "success", "Company updated.")
			return
		}
		if !errors.Is(err, ErrDuplicateName) {
			h.serviceError(w, r, "update company", err)
			return
		}
		errs["name"] = "A company with this name already exists."
	}
	company, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, "get company", err)
		return
	}
	h.render(w, r, http.StatusBadRequest, "page/company_detail", company.Name, detailPage{
		Company: company,
		Action:  fmt.Sprintf("/companies/%d", id),
		Form:    form,
		Errors:  errs,
	})
}

func (h *Handler) deleteCompany(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), identity.SnapshotFromContext(r.Context()).GetID(), id); err != nil {
		h.serviceError(w, r, "delete company", err)
		return
	}
	h.redirectWithFlash(w, r, "/companies", "success", "Company deleted.")
}

// parseForm decodes and validates the company form. ok is false when a
// response has already been written.
func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) (Input, formErrors, bool) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return Input{}, nil, false
	}
	errs := formErrors{}
	form := Input{
		Name:   r.PostFormValue("name"),
		Status: Status(r.PostFormValue("status")),
	}
	if raw := strings.TrimSpace(r.PostFormValue("employees")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs["employees"] = "Employees must be a whole number."
		}
		form.Employees = n
	}
	if raw := strings.TrimSpace(r.PostFormValue("revenue")); raw != "" {
		n, err := strconv.ParseInt(strings.TrimPrefix(raw, "$"), 10, 64)
		if err != nil {
			errs["revenue"] = "Revenue must be a whole number of dollars."
		}
		form.Revenue = n
	}
	if err := h.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if _, exists := errs[fe.Field()]; !exists {
					errs[fe.Field()] = "Invalid " + fe.Field() + "."
				}
			}
		}
	}
	return form, errs, true
}

func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, shared.ErrNotFound) {
		http.Error(w, "Company not found", http.StatusNotFound)
		return
	}
	h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	sess := shared.SessionFromContext(r.Context())
	var flash *shared.FlashMessage
	var csrfToken string
	if sess != nil {
		flash = sess.PopFlash()
		csrfToken, _ = h.csrf.EnsureToken(sess)
	}
	err := h.templates.RenderStatus(w, status, name, view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Actor:       identity.SnapshotFromContext(r.Context()),
		Data:        data,
	})
	if err != nil {
		h.logger.Error("render template", slog.String("template", name), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

func inputFrom(c Company) Input {
	return Input{Name: c.Name, Employees: c.Employees, Status: c.Status, Revenue: c.Revenue}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "companyID"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid company id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
