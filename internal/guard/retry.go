package guard

import (
	"errors"
	"time"
)

// MaxAttempts bounds refresh retries per denied view.
const MaxAttempts = 3

// DefaultAttemptTimeout is how long an in-flight attempt may run before a
// later press treats it as abandoned.
const DefaultAttemptTimeout = 30 * time.Second

var (
	// ErrRetryExhausted is returned once every attempt has been used.
	ErrRetryExhausted = errors.New("guard: retry attempts exhausted")
	// ErrRetryInFlight is returned while a previous attempt is running.
	ErrRetryInFlight = errors.New("guard: retry already in progress")
	// ErrAttemptSuperseded is returned when an abandoned attempt reports
	// back after a later press has taken over.
	ErrAttemptSuperseded = errors.New("guard: retry attempt superseded")
	// ErrStaleResult is returned when a refresh result arrives for a view
	// that has since been dismounted.
	ErrStaleResult = errors.New("guard: stale retry result")
	// ErrUnknownView is returned for view IDs that were never mounted, have
	// expired or belong to another session.
	ErrUnknownView = errors.New("guard: unknown denied view")
)

// RetryState tracks the refresh retries of one mounted access-denied view.
// The attempt counter only grows; a failed attempt never resets it.
type RetryState struct {
	Owner      string    `json:"owner"`
	Attempts   int       `json:"attempts"`
	InFlight   bool      `json:"in_flight"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	Generation uint64    `json:"generation"`
	Dismounted bool      `json:"dismounted"`
}

// Begin claims the next attempt at now. The counter is incremented before
// the refresh call is made. An in-flight attempt older than timeout is
// abandoned: its ticket is invalidated and the press proceeds. The
// returned ticket must be handed to Finish.
func (s *RetryState) Begin(now time.Time, timeout time.Duration) (uint64, error) {
	if s.Dismounted {
		return 0, ErrStaleResult
	}
	if s.InFlight {
		if !s.Abandoned(now, timeout) {
			return 0, ErrRetryInFlight
		}
		s.InFlight = false
		s.Generation++
	}
	if s.Attempts >= MaxAttempts {
		return 0, ErrRetryExhausted
	}
	s.Attempts++
	s.InFlight = true
	s.StartedAt = now
	return s.Generation, nil
}

// Abandoned reports whether the in-flight attempt has outlived timeout.
func (s RetryState) Abandoned(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	return s.InFlight && now.Sub(s.StartedAt) >= timeout
}

// Finish records the result of the attempt identified by ticket. Results
// for a dismounted view or an older generation are rejected untouched.
func (s *RetryState) Finish(ticket uint64, result error) error {
	if s.Dismounted {
		return ErrStaleResult
	}
	if ticket != s.Generation || !s.InFlight {
		return ErrAttemptSuperseded
	}
	s.InFlight = false
	s.StartedAt = time.Time{}
	if result != nil {
		s.LastError = result.Error()
	} else {
		s.LastError = ""
	}
	return nil
}

// Dismount invalidates any outstanding attempt.
func (s *RetryState) Dismount() {
	s.Dismounted = true
	s.InFlight = false
	s.StartedAt = time.Time{}
	s.Generation++
}

// Exhausted reports whether no attempts remain.
func (s RetryState) Exhausted() bool {
	return s.Attempts >= MaxAttempts
}

// Remaining is the number of attempts left.
func (s RetryState) Remaining() int {
	if s.Attempts >= MaxAttempts {
		return 0
	}
	return MaxAttempts - s.Attempts
}
