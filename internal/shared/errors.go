package shared

import "errors"

var (
	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("not found")
	// ErrCSRFTokenMissing occurs when the CSRF token is absent.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// SafeError carries a message that may be shown to end users while keeping
// the underlying cause for logs.
type SafeError struct {
	Message string
	Err     error
}

func (e *SafeError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *SafeError) Unwrap() error { return e.Err }

// UserSafeMessage returns a message suitable for flashes and error pages.
func UserSafeMessage(err error) string {
	var safe *SafeError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &safe):
		return safe.Message
	case errors.Is(err, ErrNotFound):
		return "The requested record was not found."
	case errors.Is(err, ErrCSRFTokenMissing), errors.Is(err, ErrCSRFTokenMismatch):
		return "Your form expired. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}
