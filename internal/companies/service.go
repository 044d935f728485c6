package companies

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/claimdesk/claimdesk/internal/audit"
)

// RepositoryPort defines data access methods for companies.
type RepositoryPort interface {
	ListCompanies(ctx context.Context, search string) ([]Company, error)
	GetCompany(ctx context.Context, id int64) (Company, error)
	CreateCompany(ctx context.Context, in Input) (Company, error)
	UpdateCompany(ctx context.Context, id int64, in Input) (Company, error)
	DeleteCompany(ctx context.Context, id int64) error
}

// AuditRecorder records company changes.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service handles company business logic. Permission checks happen at the
// routes.
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

// List returns companies matching search.
func (s *Service) List(ctx context.Context, search string) ([]Company, error) {
	return s.repo.ListCompanies(ctx, strings.TrimSpace(search))
}

// Get returns one company.
func (s *Service) Get(ctx context.Context, id int64) (Company, error) {
	return s.repo.GetCompany(ctx, id)
}

// Summarize counts companies for the dashboard.
func (s *Service) Summarize(ctx context.Context) (Summary, error) {
	companies, err := s.repo.ListCompanies(ctx, "")
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Total: len(companies)}
	for _, c := range companies {
		if c.Status == StatusActive {
			sum.Active++
		}
		sum.Employees += c.Employees
	}
	return sum, nil
}

// Create adds a company.
func (s *Service) Create(ctx context.Context, actorID int64, in Input) (Company, error) {
	in.Name = strings.TrimSpace(in.Name)
	company, err := s.repo.CreateCompany(ctx, in)
	if err != nil {
		return Company{}, err
	}
	s.record(ctx, actorID, "create", company.ID, map[string]any{"name": company.Name})
	return company, nil
}

// Update edits a company.
func (s *Service) Update(ctx context.Context, actorID, id int64, in Input) (Company, error) {
	in.Name = strings.TrimSpace(in.Name)
	company, err := s.repo.UpdateCompany(ctx, id, in)
	if err != nil {
		return Company{}, err
	}
	s.record(ctx, actorID, "update", id, map[string]any{"status": company.Status})
	return company, nil
}

// Delete removes a company.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	if err := s.repo.DeleteCompany(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, "delete", id, nil)
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   action,
		Entity:   "company",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit company change", slog.String("action", action), slog.Any("error", err))
	}
}
