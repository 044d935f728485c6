// Package claims serves the claims review pages on top of the backend API.
package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/claimdesk/claimdesk/internal/audit"
	"github.com/claimdesk/claimdesk/internal/authz"
	"github.com/claimdesk/claimdesk/internal/backend"
	"github.com/claimdesk/claimdesk/internal/damage"
	"github.com/claimdesk/claimdesk/internal/guard"
	"github.com/claimdesk/claimdesk/internal/identity"
	"github.com/claimdesk/claimdesk/internal/shared"
	"github.com/claimdesk/claimdesk/internal/view"
	"github.com/claimdesk/claimdesk/jobs"
)

// API is the part of the backend client the claims pages use.
type API interface {
	ListClaims(ctx context.Context, params backend.ListClaimsParams) ([]backend.Claim, error)
	GetClaim(ctx context.Context, id int64) (*backend.Claim, error)
	UpdateClaim(ctx context.Context, id int64, update backend.ClaimUpdate) (*backend.Claim, error)
	DeleteClaim(ctx context.Context, id int64) error
	ClaimImage(ctx context.Context, claimID, imageID int64) (*backend.Image, error)
	FetchURL(ctx context.Context, rawURL string) (*backend.Image, error)
}

// TokenSource attaches the signed-in actor's bearer token to a context.
type TokenSource interface {
	BackendContext(ctx context.Context, sess *shared.Session) (context.Context, error)
}

// Enqueuer schedules damage assessments.
type Enqueuer interface {
	EnqueueAssessment(ctx context.Context, payload jobs.AssessPayload) (*asynq.TaskInfo, error)
}

// Reports reads stored damage assessments.
type Reports interface {
	Latest(ctx context.Context, claimID int64) (*damage.StoredReport, error)
}

// AuditRecorder records destructive actions.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Deps groups the handler collaborators.
type Deps struct {
	Logger    *slog.Logger
	API       API
	Tokens    TokenSource
	Jobs      Enqueuer
	Reports   Reports
	Audit     AuditRecorder
	Templates *view.Engine
	CSRF      *shared.CSRFManager
	Gate      *guard.Gatekeeper
	Authz     authz.Middleware
	Now       func() time.Time
}

const (
	scanBatch        = 100
	scanLimit        = 1000
	exportLimit      = 1000
	exportRateLimit  = 5
	exportRateWindow = time.Minute
)

// Handler manages the claims pages.
type Handler struct {
	Deps
	validator *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string { return f.Tag.Get("form") })
	return &Handler{Deps: deps, validator: v}
}

// MountRoutes registers claim routes. Every page needs an admin; the
// mutating routes check the role again server-side.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(exportRateLimit, exportRateWindow,
		httprate.WithKeyFuncs(actorRateKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.Use(h.Gate.Protect(guard.RequireRole(authz.RoleAdmin)))
	r.Get("/", h.listClaims)
	r.With(limiter).Get("/export.csv", h.exportClaims)
	r.Get("/{claimID}", h.showClaim)
	r.Get("/{claimID}/images/{imageID}", h.claimImage)
	r.Group(func(r chi.Router) {
		r.Use(h.Authz.Require(authz.NeedMinimumRole(authz.RoleAdmin)))
		r.Post("/bulk-delete", h.bulkDelete)
		r.Post("/{claimID}", h.updateClaim)
		r.Post("/{claimID}/delete", h.deleteClaim)
		r.Post("/{claimID}/assess", h.assessClaim)
	})
}

func actorRateKey(r *http.Request) (string, error) {
	snap := identity.SnapshotFromContext(r.Context())
	if snap.Authenticated() {
		return "actor:" + strconv.FormatInt(snap.GetID(), 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

type listPage struct {
	Claims    []backend.Claim
	Statuses  []backend.ClaimStatus
	Ranges    []DateRange
	Filter    Filter
	Page      shared.Pagination
	More      bool
	PrevURL   string
	NextURL   string
	ExportURL string
}

type detailPage struct {
	Claim    *backend.Claim
	Statuses []backend.ClaimStatus
	Report   *damage.StoredReport
	Errors   map[string]string
}

func (h *Handler) listClaims(w http.ResponseWriter, r *http.Request) {
	ctx, ok := h.backendContext(w, r)
	if !ok {
		return
	}
	page := shared.PageFromRequest(r)
	filter := FilterFromQuery(r.URL.Query())
	claims, more, err := h.collect(ctx, filter, page.Offset(), page.PerPage)
	if err != nil {
		h.backendError(w, r, "list claims", err)
		return
	}
	data := listPage{
		Claims:    claims,
		Statuses:  backend.ClaimStatuses(),
		Ranges:    DateRanges(),
		Filter:    filter,
		Page:      page,
		More:      more,
		ExportURL: withQuery("/claims/export.csv", filter.Encode()),
	}
	if page.HasPrev() {
		data.PrevURL = pageURL(filter, page.Page-1)
	}
	if more {
		data.NextURL = pageURL(filter, page.Page+1)
	}
	h.render(w, r, http.StatusOK, "page/claims_list", "Claims", data)
}

// collect returns up to limit claims matching f after skipping skip, and
// whether more follow. Search and date ranges are applied here, scanning
// the backend in batches of scanBatch and stopping after scanLimit claims.
func (h *Handler) collect(ctx context.Context, f Filter, skip, limit int) ([]backend.Claim, bool, error) {
	if !f.Narrowed() {
		claims, err := h.API.ListClaims(ctx, backend.ListClaimsParams{Skip: skip, Limit: limit + 1, Status: f.Status})
		if err != nil {
			return nil, false, err
		}
		if len(claims) > limit {
			return claims[:limit], true, nil
		}
		return claims, false, nil
	}

	now := h.now()
	want := skip + limit + 1
	var matched []backend.Claim
	for offset := 0; offset < scanLimit && len(matched) < want; offset += scanBatch {
		batch, err := h.API.ListClaims(ctx, backend.ListClaimsParams{Skip: offset, Limit: scanBatch, Status: f.Status})
		if err != nil {
			return nil, false, err
		}
		for _, c := range batch {
			if f.Match(c, now) {
				matched = append(matched, c)
			}
		}
		if len(batch) < scanBatch {
			break
		}
	}
	if skip >= len(matched) {
		return []backend.Claim{}, false, nil
	}
	matched = matched[skip:]
	if len(matched) > limit {
		return matched[:limit], true, nil
	}
	return matched, false, nil
}

func (h *Handler) exportClaims(w http.ResponseWriter, r *http.Request) {
	ctx, ok := h.backendContext(w, r)
	if !ok {
		return
	}
	filter := FilterFromQuery(r.URL.Query())
	claims, truncated, err := h.collect(ctx, filter, 0, exportLimit)
	if err != nil {
		h.backendError(w, r, "export claims", err)
		return
	}
	csvBytes, err := WriteCSV(claims)
	if err != nil {
		h.Logger.Error("encode claims csv", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.record(r, "export", 0, map[string]any{"rows": len(claims), "filter": filter.Encode()})
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"claims.csv\"")
	if truncated {
		w.Header().Set("X-Export-Truncated", "true")
	}
	if _, err := w.Write(csvBytes); err != nil {
		h.Logger.Warn("write claims csv", slog.Any("error", err))
	}
}

func (h *Handler) showClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "claimID")
	if !ok {
		return
	}
	ctx, ok := h.backendContext(w, r)
	if !ok {
		return
	}
	claim, err := h.API.GetClaim(ctx, id)
	if err != nil {
		h.backendError(w, r, "get claim", err)
		return
	}
	h.render(w, r, http.StatusOK, "page/claim_detail", "Claim "+claimLabel(claim), detailPage{
		Claim:    claim,
		Statuses: backend.ClaimStatuses(),
		Report:   h.latestReport(r.Context(), id),
	})
}

type updateForm struct {
	Status        string  `form:"status" validate:"omitempty,oneof=pending under_review approved rejected completed"`
	AdminNotes    string  `form:"admin_notes" validate:"max=2000"`
	EstimatedCost float64 `form:"estimated_cost" validate:"gte=0"`
}

func (h *Handler) updateClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "claimID")
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := updateForm{Status: r.PostFormValue("status"), AdminNotes: r.PostFormValue("admin_notes")}
	costRaw := r.PostFormValue("estimated_cost")
	formErrors := map[string]string{}
	if costRaw != "" {
		cost, err := strconv.ParseFloat(costRaw, 64)
		if err != nil {
			formErrors["estimated_cost"] = "Estimated cost must be a number."
		}
		form.EstimatedCost = cost
	}
	if err := h.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				formErrors[fe.Field()] = "Invalid " + strings.ReplaceAll(fe.Field(), "_", " ") + "."
			}
		}
	}

	ctx, ok := h.backendContext(w, r)
	if !ok {
		return
	}
	if len(formErrors) > 0 {
		claim, err := h.API.GetClaim(ctx, id)
		if err != nil {
			h.backendError(w, r, "get claim", err)
			return
		}
		h.render(w, r, http.StatusBadRequest, "page/claim_detail", "Claim "+claimLabel(claim), detailPage{
			Claim:    claim,
			Statuses: backend.ClaimStatuses(),
			Report:   h.latestReport(r.Context(), id),
			Errors:   formErrors,
		})
		return
	}

	update := backend.ClaimUpdate{AdminNotes: &form.AdminNotes}
	if form.Status != "" {
		status := backend.ClaimStatus(form.Status)
		update.Status = &status
	}
	if costRaw != "" {
		update.EstimatedCost = &form.EstimatedCost
	}
	if _, err := h.API.UpdateClaim(ctx, id, update); err != nil {
		h.backendError(w, r, "update claim", err)
		return
	}
	h.record(r, "update", id, map[string]any{"status": form.Status})
	h.redirectWithFlash(w, r, fmt.Sprintf("/claims/%d", id), "success", "Claim updated.")
}

func (h *Handler) deleteClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "claimID")
	if !ok {
		return
	}
	ctx, ok := h.backendContext(w, r)
	if !ok {
		return
	}
	if err := h.API.DeleteClaim(ctx, id); err != nil {
		h.backendError(w, r, "delete claim", err)
		return
	}
	h.record(r, "delete", id, nil)
	h.redirectWithFlash(w, r, "/claims", "success", "Claim deleted.")
}

// bulkDelete removes every selected claim. Claims that no longer exist
// are reported as skipped; other failures leave the rest of the batch
// running.
func (h *Handler) bulkDelete(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	var ids []int64
	seen := make(map[int64]bool)
	for _, raw := range r.PostForm["ids"] {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "invalid claim id", http.StatusBadRequest)
			return
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		h.redirectWithFlash(w, r, "/claims", "info", "No claims selected.")
		return
	}
	ctx, ok := h.backendContext(w, r)
	if !ok {
		return
	}

	var deleted, skipped, failed int
	for _, id := range ids {
		err := h.API.DeleteClaim(ctx, id)
		switch {
		case err == nil:
			deleted++
			h.record(r, "delete", id, map[string]any{"bulk": true})
		case errors.Is(err, backend.ErrNotFound):
			skipped++
		case errors.Is(err, backend.ErrUnauthorized):
			http.Redirect(w, r, "/auth/login?next="+url.QueryEscape("/claims"), http.StatusSeeOther)
			return
		default:
			failed++
			h.Logger.Error("bulk delete claim", slog.Int64("claim_id", id), slog.Any("error", err))
		}
	}

	msg := fmt.Sprintf("Deleted %d claim(s).", deleted)
	if skipped > 0 {
		msg += fmt.Sprintf(" Skipped %d that no longer exist.", skipped)
	}
	kind := "success"
	if failed > 0 {
		kind = "error"
		msg += fmt.Sprintf(" Failed to delete %d. Please try again.", failed)
	}
	h.redirectWithFlash(w, r, "/claims", kind, msg)
}

func (h *Handler) assessClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "claimID")
	if !ok {
		return
	}
	if h.Jobs == nil {
		h.redirectWithFlash(w, r, fmt.Sprintf("/claims/%d", id), "error", "Damage assessment is not available.")
		return
	}
	snap := identity.SnapshotFromContext(r.Context())
	_, err := h.Jobs.EnqueueAssessment(r.Context(), jobs.AssessPayload{ClaimID: id, RequestedBy: snap.GetID()})
	switch {
	case errors.Is(err, jobs.ErrAlreadyQueued):
		h.redirectWithFlash(w, r, fmt.Sprintf("/claims/%d", id), "info", "An assessment for this claim is already running.")
	case err != nil:
		h.Logger.Error("enqueue assessment", slog.Int64("claim_id", id), slog.Any("error", err))
		h.redirectWithFlash(w, r, fmt.Sprintf("/claims/%d", id), "error", "Could not start the damage assessment.")
	default:
		h.redirectWithFlash(w, r, fmt.Sprintf("/claims/%d", id), "success", "Damage assessment started. Refresh in a minute to see the report.")
	}
}

func (h *Handler) claimImage(w http.ResponseWriter, r *http.Request) {
	claimID, ok := pathID(w, r, "claimID")
	if !ok {
		return
	}
	imageID, ok := pathID(w, r, "imageID")
	if !ok {
		return
	}
	ctx, ok := h.backendContext(w, r)
	if !ok {
		return
	}
	img, err := h.API.ClaimImage(ctx, claimID, imageID)
	if err == nil && img.URL != "" {
		img, err = h.API.FetchURL(ctx, img.URL)
	}
	if err != nil {
		h.backendError(w, r, "claim image", err)
		return
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(img.Data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=300")
	_, _ = w.Write(img.Data)
}

func (h *Handler) latestReport(ctx context.Context, claimID int64) *damage.StoredReport {
	if h.Reports == nil {
		return nil
	}
	report, err := h.Reports.Latest(ctx, claimID)
	if err != nil {
		if !errors.Is(err, damage.ErrNoReport) {
			h.Logger.Warn("load damage report", slog.Int64("claim_id", claimID), slog.Any("error", err))
		}
		return nil
	}
	return report
}

func (h *Handler) record(r *http.Request, action string, claimID int64, meta map[string]any) {
	if h.Audit == nil {
		return
	}
	entry := audit.Entry{
		ActorID: identity.SnapshotFromContext(r.Context()).GetID(),
		Action:  action,
		Entity:  "claim",
		Meta:    meta,
	}
	if claimID > 0 {
		entry.EntityID = strconv.FormatInt(claimID, 10)
	}
	if err := h.Audit.Record(r.Context(), entry); err != nil {
		h.Logger.Warn("audit claim", slog.String("action", action), slog.Any("error", err))
	}
}

// backendContext attaches the bearer token. A session that can no longer
// be refreshed is sent back to the login page.
func (h *Handler) backendContext(w http.ResponseWriter, r *http.Request) (context.Context, bool) {
	ctx, err := h.Tokens.BackendContext(r.Context(), shared.SessionFromContext(r.Context()))
	if err != nil {
		if identity.IsRefreshError(err) || errors.Is(err, identity.ErrNoSession) {
			http.Redirect(w, r, "/auth/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
			return nil, false
		}
		h.Logger.Error("backend token", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return nil, false
	}
	return ctx, true
}

func (h *Handler) backendError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, backend.ErrUnauthorized):
		http.Redirect(w, r, "/auth/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
	case errors.Is(err, backend.ErrNotFound):
		http.Error(w, "Claim not found", http.StatusNotFound)
	default:
		h.Logger.Error(op, slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	sess := shared.SessionFromContext(r.Context())
	var flash *shared.FlashMessage
	var csrfToken string
	if sess != nil {
		flash = sess.PopFlash()
		csrfToken, _ = h.CSRF.EnsureToken(sess)
	}
	err := h.Templates.RenderStatus(w, status, name, view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Actor:       identity.SnapshotFromContext(r.Context()),
		Data:        data,
	})
	if err != nil {
		h.Logger.Error("render template", slog.String("template", name), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func pageURL(f Filter, page int) string {
	q := f.Encode()
	if q != "" {
		q += "&"
	}
	return "/claims?" + q + "page=" + strconv.Itoa(page)
}

func withQuery(path, query string) string {
	if query == "" {
		return path
	}
	return path + "?" + query
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func validStatus(s backend.ClaimStatus) bool {
	for _, known := range backend.ClaimStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

func claimLabel(c *backend.Claim) string {
	if c.ClaimNumber != "" {
		return c.ClaimNumber
	}
	return "#" + strconv.FormatInt(c.ID, 10)
}
