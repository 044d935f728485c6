package companies

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/claimdesk/claimdesk/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const companyColumns = `id, name, employees, status, revenue, created_at, updated_at`

// ListCompanies returns companies ordered by name.
func (r *Repository) ListCompanies(ctx context.Context, search string) ([]Company, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+companyColumns+` FROM companies
WHERE ($1 = '' OR name ILIKE '%' || $1 || '%')
ORDER BY name`, search)
	if err != nil {
		return nil, fmt.Errorf("companies: list: %w", err)
	}
	companies, err := pgx.CollectRows(rows, scanCompany)
	if err != nil {
		return nil, fmt.Errorf("companies: list: %w", err)
	}
	return companies, nil
}

// GetCompany loads one company.
func (r *Repository) GetCompany(ctx context.Context, id int64) (Company, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id)
	if err != nil {
		return Company{}, fmt.Errorf("companies: get: %w", err)
	}
	company, err := pgx.CollectExactlyOneRow(rows, scanCompany)
	if errors.Is(err, pgx.ErrNoRows) {
		return Company{}, shared.ErrNotFound
	}
	if err != nil {
		return Company{}, fmt.Errorf("companies: get: %w", err)
	}
	return company, nil
}

// CreateCompany inserts a company.
func (r *Repository) CreateCompany(ctx context.Context, in Input) (Company, error) {
	rows, err := r.pool.Query(ctx, `INSERT INTO companies (name, employees, status, revenue)
VALUES ($1, $2, $3, $4) RETURNING `+companyColumns,
		in.Name, in.Employees, string(in.Status), in.Revenue)
	if err != nil {
		return Company{}, fmt.Errorf("companies: create: %w", err)
	}
	company, err := pgx.CollectExactlyOneRow(rows, scanCompany)
	if err != nil {
		return Company{}, mapWriteError("create", err)
	}
	return company, nil
}

// UpdateCompany overwrites the editable fields.
func (r *Repository) UpdateCompany(ctx context.Context, id int64, in Input) (Company, error) {
	rows, err := r.pool.Query(ctx, `UPDATE companies
SET name = $2, employees = $3, status = $4, revenue = $5, updated_at = NOW()
WHERE id = $1 RETURNING `+companyColumns,
		id, in.Name, in.Employees, string(in.Status), in.Revenue)
	if err != nil {
		return Company{}, fmt.Errorf("companies: update: %w", err)
	}
	company, err := pgx.CollectExactlyOneRow(rows, scanCompany)
	if errors.Is(err, pgx.ErrNoRows) {
		return Company{}, shared.ErrNotFound
	}
	if err != nil {
		return Company{}, mapWriteError("update", err)
	}
	return company, nil
}

// DeleteCompany removes a company.
func (r *Repository) DeleteCompany(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM companies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("companies: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateName
	}
	return fmt.Errorf("companies: %s: %w", op, err)
}

func scanCompany(row pgx.CollectableRow) (Company, error) {
	var c Company
	var status string
	err := row.Scan(&c.ID, &c.Name, &c.Employees, &status, &c.Revenue, &c.CreatedAt, &c.UpdatedAt)
	c.Status = Status(status)
	return c, err
}
