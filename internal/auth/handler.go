package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/claimdesk/claimdesk/internal/authz"
	"github.com/claimdesk/claimdesk/internal/identity"
	"github.com/claimdesk/claimdesk/internal/shared"
	"github.com/claimdesk/claimdesk/internal/view"
)

const pendingPhoneKey = "auth.pending_phone"

// Handler wires HTTP endpoints for the phone OTP login flow.
type Handler struct {
	logger      *slog.Logger
	identity    *identity.Provider
	templates   *view.Engine
	csrfManager *shared.CSRFManager
	validator   *validator.Validate
	otpPerMin   int
}

// NewHandler constructs a Handler instance. otpPerMinute limits code
// requests per client IP.
func NewHandler(logger *slog.Logger, provider *identity.Provider, templates *view.Engine, csrf *shared.CSRFManager, otpPerMinute int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if otpPerMinute <= 0 {
		otpPerMinute = 5
	}
	return &Handler{
		logger:      logger,
		identity:    provider,
		templates:   templates,
		csrfManager: csrf,
		validator:   validator.New(),
		otpPerMin:   otpPerMinute,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.With(httprate.Limit(h.otpPerMin, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))).
		Post("/send-otp", h.handleSendOTP)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type otpForm struct {
	Phone string `validate:"required,min=7,max=20"`
}

type loginForm struct {
	Phone string `validate:"required,min=7,max=20"`
	Code  string `validate:"required,numeric,min=4,max=8"`
}

type loginPageData struct {
	Phone    string
	Next     string
	CodeSent bool
	Error    string
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	next := shared.SafeRedirect(r.URL.Query().Get("next"))
	snap := identity.SnapshotFromContext(r.Context())
	if authz.HasMinimumRole(snap, authz.RoleAdmin) {
		http.Redirect(w, r, landing(next), http.StatusSeeOther)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	data := loginPageData{Next: next}
	if sess != nil {
		data.Phone = sess.Get(pendingPhoneKey)
		data.CodeSent = data.Phone != ""
	}
	h.render(w, r, http.StatusOK, data)
}

func (h *Handler) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	form := otpForm{Phone: r.PostFormValue("phone_number")}
	data := loginPageData{Phone: form.Phone, Next: shared.SafeRedirect(r.PostFormValue("next"))}
	if err := h.validator.Struct(form); err != nil {
		data.Error = "Please enter a valid phone number."
		h.render(w, r, http.StatusBadRequest, data)
		return
	}
	if err := h.identity.SendOTP(r.Context(), form.Phone); err != nil {
		h.logger.Warn("send otp", slog.Any("error", err))
		data.Error = shared.UserSafeMessage(err)
		h.render(w, r, http.StatusBadRequest, data)
		return
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.Set(pendingPhoneKey, form.Phone)
		sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Verification code sent."})
	}
	http.Redirect(w, r, "/auth/login?next="+url.QueryEscape(data.Next), http.StatusSeeOther)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	form := loginForm{
		Phone: r.PostFormValue("phone_number"),
		Code:  r.PostFormValue("code"),
	}
	data := loginPageData{Phone: form.Phone, Next: shared.SafeRedirect(r.PostFormValue("next")), CodeSent: true}
	if err := h.validator.Struct(form); err != nil {
		data.Error = "Enter the code we sent to your phone."
		h.render(w, r, http.StatusBadRequest, data)
		return
	}

	err := h.identity.Login(r.Context(), sess, identity.Credentials{Phone: form.Phone, Code: form.Code})
	if err != nil {
		var authErr *identity.AuthError
		if errors.As(err, &authErr) {
			data.Error = authErr.Message()
		} else {
			h.logger.Error("login", slog.Any("error", err))
			data.Error = shared.UserSafeMessage(err)
		}
		h.render(w, r, http.StatusBadRequest, data)
		return
	}

	sess.Delete(pendingPhoneKey)
	sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back."})
	http.Redirect(w, r, landing(data.Next), http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.identity.Logout(shared.SessionFromContext(r.Context()))
	http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, data loginPageData) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	err := h.templates.RenderStatus(w, status, "page/login", view.TemplateData{
		Title:       "Sign in",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Actor:       identity.SnapshotFromContext(r.Context()),
		Data:        data,
	})
	if err != nil {
		h.logger.Error("render login", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func landing(next string) string {
	if next == "/" || next == "/auth/login" {
		return "/admin"
	}
	return next
}
