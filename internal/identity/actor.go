// Package identity resolves who is making a request and owns every change
// to that answer: OTP login, token refresh and logout.
package identity

import (
	"strings"
	"time"

	"github.com/claimdesk/claimdesk/internal/authz"
	"github.com/claimdesk/claimdesk/internal/backend"
)

// Actor is the authenticated person behind a session.
type Actor struct {
	ID              int64      `json:"id"`
	PhoneNumber     string     `json:"phone_number"`
	FullName        string     `json:"full_name"`
	Email           string     `json:"email,omitempty"`
	Role            authz.Role `json:"role"`
	IsActive        bool       `json:"is_active"`
	IsPhoneVerified bool       `json:"is_phone_verified"`
	CreatedAt       time.Time  `json:"created_at"`
	LastLogin       *time.Time `json:"last_login,omitempty"`
}

// GetID implements authz.Principal.
func (a *Actor) GetID() int64 {
	if a == nil {
		return 0
	}
	return a.ID
}

// GetRole implements authz.Principal.
func (a *Actor) GetRole() authz.Role {
	if a == nil {
		return ""
	}
	return a.Role
}

// DisplayName falls back to the phone number when no name is on file.
func (a *Actor) DisplayName() string {
	if a == nil {
		return ""
	}
	if name := strings.TrimSpace(a.FullName); name != "" {
		return name
	}
	return a.PhoneNumber
}

// actorFromUser converts the backend record. Unknown roles are kept as the
// empty role so every check on the actor fails closed.
func actorFromUser(u backend.User) Actor {
	role, err := authz.ParseRole(u.Role)
	if err != nil {
		role = ""
	}
	actor := Actor{
		ID:              u.ID,
		PhoneNumber:     u.PhoneNumber,
		FullName:        u.FullName,
		Email:           u.Email,
		Role:            role,
		IsActive:        u.IsActive,
		IsPhoneVerified: u.IsPhoneVerified,
		CreatedAt:       parseTime(u.CreatedAt),
	}
	if last := parseTime(u.LastLogin); !last.IsZero() {
		actor.LastLogin = &last
	}
	return actor
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
}

func parseTime(raw string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
