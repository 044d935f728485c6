package users

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

// Handler manages user management endpoints.
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

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.gate.Protect(guard.RequireRole(authz.RoleAdmin)))
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAction("read", "users"))
		r.Get("/", h.listUsers)
		r.Get("/{userID}", h.showUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAction("write", "users"))
		r.Post("/", h.createUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAction("delete", "users"))
		r.Post("/{userID}/delete", h.deleteUser)
		r.Post("/bulk-delete", h.bulkDelete)
	})
}

type formErrors map[string]string

type listPage struct {
	Users  []User
	Page   shared.Pagination
	Query  string
	Role   authz.Role
	Roles  []authz.Role
	Form   CreateInput
	Errors formErrors
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	h.renderList(w, r, http.StatusOK, CreateInput{Role: authz.RoleUser}, formErrors{})
}

func (h *Handler) renderList(w http.ResponseWriter, r *http.Request, status int, form CreateInput, errs formErrors) {
	snap := identity.SnapshotFromContext(r.Context())
	q := r.URL.Query()
	filter := ListFilter{Query: q.Get("q")}
	if role, err := authz.ParseRole(q.Get("role")); err == nil {
		filter.Role = role
	}
	users, page, err := h.service.ListUsers(r.Context(), snap, filter, shared.PageFromRequest(r))
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		errs["general"] = shared.UserSafeMessage(err)
		status = http.StatusInternalServerError
	}
	h.render(w, r, status, "page/users_list", "Users", listPage{
		Users:  users,
		Page:   page,
		Query:  filter.Query,
		Role:   filter.Role,
		Roles:  manageableRoles(snap),
		Form:   form,
		Errors: errs,
	})
}

func (h *Handler) showUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	user, err := h.service.GetUser(r.Context(), identity.SnapshotFromContext(r.Context()), id)
	if err != nil {
		h.serviceError(w, r, "get user", err)
		return
	}
	h.render(w, r, http.StatusOK, "page/user_detail", user.DisplayName(), user)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := CreateInput{
		PhoneNumber: r.PostFormValue("phone_number"),
		FullName:    r.PostFormValue("full_name"),
		Email:       r.PostFormValue("email"),
		Role:        authz.Role(r.PostFormValue("role")),
		Company:     r.PostFormValue("company"),
	}
	errs := formErrors{}
	if err := h.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs[fe.Field()] = "Invalid " + strings.ReplaceAll(fe.Field(), "_", " ") + "."
			}
		}
		h.renderList(w, r, http.StatusBadRequest, form, errs)
		return
	}

	user, err := h.service.CreateUser(r.Context(), identity.SnapshotFromContext(r.Context()), form)
	switch {
	case errors.Is(err, ErrForbidden):
		errs["role"] = "You cannot create a " + form.Role.DisplayName() + "."
		h.renderList(w, r, http.StatusForbidden, form, errs)
		return
	case errors.Is(err, ErrDuplicatePhone):
		errs["phone_number"] = "This phone number is already registered."
		h.renderList(w, r, http.StatusBadRequest, form, errs)
		return
	case err != nil:
		h.logger.Error("create user", slog.Any("error", err))
		errs["general"] = shared.UserSafeMessage(err)
		h.renderList(w, r, http.StatusInternalServerError, form, errs)
		return
	}
	h.redirectWithFlash(w, r, "/users", "success", "User "+user.DisplayName()+" created.")
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteUser(r.Context(), identity.SnapshotFromContext(r.Context()), id); err != nil {
		h.serviceError(w, r, "delete user", err)
		return
	}
	h.redirectWithFlash(w, r, "/users", "success", "User deleted.")
}

func (h *Handler) bulkDelete(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	var ids []int64
	for _, raw := range r.PostForm["ids"] {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "invalid user id", http.StatusBadRequest)
			return
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		h.redirectWithFlash(w, r, "/users", "info", "No users selected.")
		return
	}
	res, err := h.service.BulkDelete(r.Context(), identity.SnapshotFromContext(r.Context()), ids)
	if err != nil {
		h.serviceError(w, r, "bulk delete users", err)
		return
	}
	msg := fmt.Sprintf("Deleted %d user(s).", len(res.Deleted))
	if len(res.Skipped) > 0 {
		msg += fmt.Sprintf(" Skipped %d you cannot manage.", len(res.Skipped))
	}
	h.redirectWithFlash(w, r, "/users", "success", msg)
}

func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.Is(err, shared.ErrNotFound):
		http.Error(w, "User not found", http.StatusNotFound)
	default:
		h.logger.Error(op, slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
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

func manageableRoles(actor authz.Principal) []authz.Role {
	var out []authz.Role
	for _, role := range authz.Roles() {
		if authz.CanManageRole(actor, role) {
			out = append(out, role)
		}
	}
	return out
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
