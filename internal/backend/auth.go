package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// User is the account record returned by the auth endpoints.
type User struct {
	ID              int64  `json:"id"`
	PhoneNumber     string `json:"phone_number"`
	FullName        string `json:"full_name"`
	Email           string `json:"email,omitempty"`
	Role            string `json:"role"`
	IsActive        bool   `json:"is_active"`
	IsPhoneVerified bool   `json:"is_phone_verified"`
	CreatedAt       string `json:"created_at,omitempty"`
	LastLogin       string `json:"last_login,omitempty"`
}

// UnmarshalJSON accepts the role under any of the spellings the backend
// has used over time.
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	var raw struct {
		plain
		UserRole  string `json:"user_role"`
		CamelRole string `json:"userRole"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*u = User(raw.plain)
	if u.Role == "" {
		u.Role = firstNonEmpty(raw.UserRole, raw.CamelRole)
	}
	return nil
}

// LoginResult is what a successful OTP verification yields.
type LoginResult struct {
	User         User
	AccessToken  string
	RefreshToken string
}

// SendOTP asks the backend to text a login code to phone.
func (c *Client) SendOTP(ctx context.Context, phone string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/auth/send-otp", nil, map[string]string{
		"phone_number": phone,
		"purpose":      "login",
	})
	return err
}

// VerifyOTP exchanges a phone number and code for tokens and a user.
func (c *Client) VerifyOTP(ctx context.Context, phone, code string) (*LoginResult, error) {
	res, err := c.do(ctx, http.MethodPost, "/api/v1/auth/verify-otp", nil, map[string]string{
		"phone_number": phone,
		"code":         code,
	})
	if err != nil {
		return nil, err
	}
	return parseLogin(res.body)
}

// RefreshToken trades a refresh token for a new access token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	res, err := c.do(ctx, http.MethodPost, "/api/v1/auth/refresh-token", nil, map[string]string{
		"refresh_token": refreshToken,
	})
	if err != nil {
		return "", err
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := decode(res.body, &payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("%w: refresh returned no access token", ErrMalformedResponse)
	}
	return payload.AccessToken, nil
}

// Me returns the user owning the bearer token on ctx.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.getJSON(ctx, "/api/v1/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

type envelope map[string]json.RawMessage

func (e envelope) has(key string) bool {
	raw, ok := e[key]
	return ok && len(raw) > 0 && string(raw) != "null" && string(raw) != `""` && string(raw) != "0"
}

func (e envelope) child(key string) envelope {
	var out envelope
	if raw, ok := e[key]; ok {
		_ = json.Unmarshal(raw, &out)
	}
	return out
}

func (e envelope) str(keys ...string) string {
	for _, key := range keys {
		raw, ok := e[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

// parseLogin locates the user object and tokens in the verify-otp body.
// The user may sit under "user", at the root, under "data.user" or under
// "response.user".
func parseLogin(body []byte) (*LoginResult, error) {
	var root envelope
	if err := decode(body, &root); err != nil {
		return nil, err
	}

	var userRaw json.RawMessage
	switch {
	case root.has("user"):
		userRaw = root["user"]
	case root.has("id") && (root.has("role") || root.has("user_role")):
		userRaw = body
	case root.child("data").has("user"):
		userRaw = root.child("data")["user"]
	case root.child("response").has("user"):
		userRaw = root.child("response")["user"]
	case root.has("role") || root.has("user_role") || root.has("userRole") || root.has("Role"):
		userRaw = body
	default:
		return nil, fmt.Errorf("%w: no user data in login response", ErrMalformedResponse)
	}

	var user User
	if err := decode(userRaw, &user); err != nil {
		return nil, err
	}
	return &LoginResult{
		User: user,
		AccessToken: firstNonEmpty(
			root.str("access_token", "accessToken", "token", "access"),
			root.child("data").str("access_token"),
			root.child("response").str("access_token"),
		),
		RefreshToken: firstNonEmpty(
			root.str("refresh_token", "refreshToken", "refresh"),
			root.child("data").str("refresh_token"),
			root.child("response").str("refresh_token"),
		),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
