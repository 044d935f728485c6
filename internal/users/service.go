package users

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/claimdesk/claimdesk/internal/audit"
	"github.com/claimdesk/claimdesk/internal/authz"
	"github.com/claimdesk/claimdesk/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, filter ListFilter) ([]User, int, error)
	GetUser(ctx context.Context, id int64) (User, error)
	GetUsers(ctx context.Context, ids []int64) ([]User, error)
	CreateUser(ctx context.Context, in CreateInput) (User, error)
	DeleteUsers(ctx context.Context, ids []int64) (int64, error)
}

// AuditRecorder records account changes.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service applies visibility and management rules on top of the repository.
type Service struct {
	repo   RepositoryPort
	audit  AuditRecorder
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, recorder AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: recorder, logger: logger}
}

// Visibility narrows filter to what actor may see: super admins see every
// account, admins do not see super admins and anyone else sees only
// themselves.
func Visibility(actor authz.Principal, filter ListFilter) ListFilter {
	switch {
	case authz.HasPermission(actor, authz.ReadSuperAdmins):
	case authz.HasMinimumRole(actor, authz.RoleAdmin):
		filter.HideRoles = []authz.Role{authz.RoleSuperAdmin}
	default:
		filter.OnlyID = actor.GetID()
	}
	return filter
}

func canSee(actor authz.Principal, u User) bool {
	f := Visibility(actor, ListFilter{})
	if f.OnlyID != 0 && f.OnlyID != u.ID {
		return false
	}
	for _, hidden := range f.HideRoles {
		if u.Role == hidden {
			return false
		}
	}
	return true
}

// ListUsers returns the page of users visible to actor.
func (s *Service) ListUsers(ctx context.Context, actor authz.Principal, filter ListFilter, page shared.Pagination) ([]User, shared.Pagination, error) {
	if !authz.HasPermission(actor, authz.ReadUsers) {
		return nil, page, ErrForbidden
	}
	filter = Visibility(actor, filter)
	filter.Limit = page.PerPage
	filter.Offset = page.Offset()
	users, total, err := s.repo.ListUsers(ctx, filter)
	if err != nil {
		return nil, page, err
	}
	page.Total = total
	return users, page, nil
}

// GetUser returns a user visible to actor. Hidden users look missing.
func (s *Service) GetUser(ctx context.Context, actor authz.Principal, id int64) (User, error) {
	if !authz.HasPermission(actor, authz.ReadUsers) {
		return User{}, ErrForbidden
	}
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if !canSee(actor, user) {
		return User{}, shared.ErrNotFound
	}
	return user, nil
}

// CreateUser adds an account. The new role must be one actor can manage.
func (s *Service) CreateUser(ctx context.Context, actor authz.Principal, in CreateInput) (User, error) {
	if !authz.HasPermission(actor, authz.WriteUsers) || !authz.CanManageRole(actor, in.Role) {
		return User{}, ErrForbidden
	}
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.TrimSpace(in.Email)
	user, err := s.repo.CreateUser(ctx, in)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, actor, "create", user.ID, map[string]any{"role": user.Role})
	return user, nil
}

// DeleteUser removes one account actor outranks.
func (s *Service) DeleteUser(ctx context.Context, actor authz.Principal, id int64) error {
	if !authz.HasPermission(actor, authz.DeleteUsers) {
		return ErrForbidden
	}
	target, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if !authz.CanManageRole(actor, target.Role) {
		return ErrForbidden
	}
	if _, err := s.repo.DeleteUsers(ctx, []int64{id}); err != nil {
		return err
	}
	s.record(ctx, actor, "delete", id, map[string]any{"role": target.Role})
	return nil
}

// BulkDelete removes every listed account actor outranks and reports the
// rest as skipped.
func (s *Service) BulkDelete(ctx context.Context, actor authz.Principal, ids []int64) (BulkResult, error) {
	var res BulkResult
	if !authz.HasPermission(actor, authz.DeleteUsers) {
		return res, ErrForbidden
	}
	if len(ids) == 0 {
		return res, nil
	}
	targets, err := s.repo.GetUsers(ctx, ids)
	if err != nil {
		return res, err
	}
	found := make(map[int64]User, len(targets))
	for _, t := range targets {
		found[t.ID] = t
	}
	for _, id := range ids {
		t, ok := found[id]
		if ok && authz.CanManageRole(actor, t.Role) {
			res.Deleted = append(res.Deleted, id)
			continue
		}
		res.Skipped = append(res.Skipped, id)
	}
	if len(res.Deleted) == 0 {
		return res, nil
	}
	if _, err := s.repo.DeleteUsers(ctx, res.Deleted); err != nil {
		return BulkResult{}, fmt.Errorf("users: bulk delete: %w", err)
	}
	for _, id := range res.Deleted {
		s.record(ctx, actor, "delete", id, map[string]any{"bulk": true})
	}
	return res, nil
}

func (s *Service) record(ctx context.Context, actor authz.Principal, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, audit.Entry{
		ActorID:  actor.GetID(),
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit user change", slog.String("action", action), slog.Any("error", err))
	}
}
