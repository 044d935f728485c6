// Package companies manages the insured companies listed in the admin
// dashboard.
package companies

import (
	"errors"
	"time"
)

// ErrDuplicateName is returned when a company name is already taken.
var ErrDuplicateName = errors.New("companies: name already exists")

// Status is the lifecycle state of a company.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Label renders the status for display.
func (s Status) Label() string {
	if s == StatusInactive {
		return "Inactive"
	}
	return "Active"
}

// Company is one insured organisation.
type Company struct {
	ID        int64
	Name      string
	Employees int
	Status    Status
	Revenue   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Input carries the editable fields of a company.
type Input struct {
	Name      string `form:"name" validate:"required,max=160"`
	Employees int    `form:"employees" validate:"gte=0"`
	Status    Status `form:"status" validate:"required,oneof=active inactive"`
	Revenue   int64  `form:"revenue" validate:"gte=0"`
}

// Summary aggregates the company list for the dashboard tile.
type Summary struct {
	Total     int
	Active    int
	Employees int
}
