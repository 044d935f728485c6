package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/claimdesk/claimdesk/internal/authz"
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

const userColumns = `id, phone_number, full_name, COALESCE(email, ''), role, COALESCE(company, ''), is_active, created_at, updated_at`

// ListUsers returns one page of users and the total number of matches.
func (r *Repository) ListUsers(ctx context.Context, filter ListFilter) ([]User, int, error) {
	where, args := filterClause(filter)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("users: count: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		userColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("users: list: %w", err)
	}
	users, err := pgx.CollectRows(rows, scanUser)
	if err != nil {
		return nil, 0, fmt.Errorf("users: list: %w", err)
	}
	return users, total, nil
}

// GetUser loads one user.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		return User{}, fmt.Errorf("users: get: %w", err)
	}
	user, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, shared.ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("users: get: %w", err)
	}
	return user, nil
}

// GetUsers loads the users with the given IDs. Unknown IDs are skipped.
func (r *Repository) GetUsers(ctx context.Context, ids []int64) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("users: get many: %w", err)
	}
	users, err := pgx.CollectRows(rows, scanUser)
	if err != nil {
		return nil, fmt.Errorf("users: get many: %w", err)
	}
	return users, nil
}

// CreateUser inserts an active user.
func (r *Repository) CreateUser(ctx context.Context, in CreateInput) (User, error) {
	rows, err := r.pool.Query(ctx, `
INSERT INTO users (phone_number, full_name, email, role, company, is_active)
VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), TRUE)
RETURNING `+userColumns,
		in.PhoneNumber, in.FullName, in.Email, string(in.Role), in.Company)
	if err != nil {
		return User{}, fmt.Errorf("users: create: %w", err)
	}
	user, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrDuplicatePhone
		}
		return User{}, fmt.Errorf("users: create: %w", err)
	}
	return user, nil
}

// DeleteUsers removes the given users and returns how many rows went away.
func (r *Repository) DeleteUsers(ctx context.Context, ids []int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("users: delete: %w", err)
	}
	return tag.RowsAffected(), nil
}

func filterClause(filter ListFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.OnlyID > 0 {
		add("id = $%d", filter.OnlyID)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		add("(full_name ILIKE '%%' || $%[1]d || '%%' OR phone_number ILIKE '%%' || $%[1]d || '%%')", q)
	}
	if filter.Role != "" {
		add("role = $%d", string(filter.Role))
	}
	if len(filter.HideRoles) > 0 {
		add("role <> ALL($%d)", roleStrings(filter.HideRoles))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func roleStrings(roles []authz.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func scanUser(row pgx.CollectableRow) (User, error) {
	var u User
	var role string
	err := row.Scan(&u.ID, &u.PhoneNumber, &u.FullName, &u.Email, &role, &u.Company, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	u.Role = authz.Role(role)
	return u, err
}
