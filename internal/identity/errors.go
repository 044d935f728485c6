package identity

import (
	"errors"
	"fmt"
)

// AuthReason classifies a failed login.
type AuthReason string

const (
	ReasonInvalidCredentials AuthReason = "invalid_credentials"
	ReasonInsufficientRole   AuthReason = "insufficient_role"
	ReasonMissingToken       AuthReason = "missing_token"
	ReasonMalformedResponse  AuthReason = "malformed_response"
)

// AuthError is a login failure that is shown to the person logging in.
type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "identity: " + string(e.Reason)
	}
	return fmt.Sprintf("identity: %s: %v", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Message is the text rendered on the login page.
func (e *AuthError) Message() string {
	switch e.Reason {
	case ReasonInvalidCredentials:
		return "Invalid phone number or verification code."
	case ReasonInsufficientRole:
		return "Insufficient permissions. Admin access required."
	case ReasonMissingToken:
		return "No access token received from server."
	default:
		return "Unexpected response from the authentication server."
	}
}

// RefreshReason classifies a failed refresh.
type RefreshReason string

const (
	ReasonNoRefreshToken  RefreshReason = "no_refresh_token"
	ReasonRefreshRejected RefreshReason = "refresh_rejected"
)

// RefreshError means the session can no longer be refreshed. The provider
// has already logged the session out when it returns one.
type RefreshError struct {
	Reason RefreshReason
	Err    error
}

func (e *RefreshError) Error() string {
	if e.Err == nil {
		return "identity: refresh failed: " + string(e.Reason)
	}
	return fmt.Sprintf("identity: refresh failed: %s: %v", e.Reason, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// ErrNoSession is returned when an operation needs a session and none is
// attached to the request.
var ErrNoSession = errors.New("identity: no session")

// IsRefreshError reports whether err is a terminal refresh failure.
func IsRefreshError(err error) bool {
	var refreshErr *RefreshError
	return errors.As(err, &refreshErr)
}
