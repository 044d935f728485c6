package users

import (
	"errors"
	"time"

	"github.com/claimdesk/claimdesk/internal/authz"
)

var (
	// ErrDuplicatePhone is returned when a phone number is already registered.
	ErrDuplicatePhone = errors.New("users: phone number already registered")
	// ErrForbidden is returned when the actor may not act on the target.
	ErrForbidden = errors.New("users: forbidden")
)

// User represents a managed account.
type User struct {
	ID          int64
	PhoneNumber string
	FullName    string
	Email       string
	Role        authz.Role
	Company     string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DisplayName prefers the full name over the phone number.
func (u User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.PhoneNumber
}

// CreateInput carries the fields of a new account.
type CreateInput struct {
	PhoneNumber string     `form:"phone_number" validate:"required,min=7,max=20"`
	FullName    string     `form:"full_name" validate:"required,max=120"`
	Email       string     `form:"email" validate:"omitempty,email,max=200"`
	Role        authz.Role `form:"role" validate:"required,oneof=user admin super_admin"`
	Company     string     `form:"company" validate:"max=120"`
}

// ListFilter narrows the user list. Visibility rules are applied on top by
// the service.
type ListFilter struct {
	Query     string
	Role      authz.Role
	HideRoles []authz.Role
	OnlyID    int64
	Limit     int
	Offset    int
}

// BulkResult reports which targets a bulk delete removed.
type BulkResult struct {
	Deleted []int64
	Skipped []int64
}
