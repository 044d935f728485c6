package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/claimdesk/claimdesk/internal/authz"
	"github.com/claimdesk/claimdesk/internal/backend"
	"github.com/claimdesk/claimdesk/internal/shared"
)

// Session keys owned by the provider. Nothing else writes them.
const (
	actorKey        = "identity.actor"
	accessTokenKey  = "identity.access_token"
	refreshTokenKey = "identity.refresh_token"
)

// AuthAPI is the subset of the backend client the provider needs.
type AuthAPI interface {
	SendOTP(ctx context.Context, phone string) error
	VerifyOTP(ctx context.Context, phone, code string) (*backend.LoginResult, error)
	RefreshToken(ctx context.Context, refreshToken string) (string, error)
	Me(ctx context.Context) (*backend.User, error)
}

// RefreshRecorder observes refresh outcomes.
type RefreshRecorder interface {
	ObserveRefresh(outcome string)
}

// Credentials identify a login attempt.
type Credentials struct {
	Phone string
	Code  string
}

// Provider is the only component that mutates identity state in a session.
type Provider struct {
	api            AuthAPI
	sessions       *shared.SessionManager
	refreshTimeout time.Duration
	logger         *slog.Logger
	recorder       RefreshRecorder
	now            func() time.Time
}

// ProviderOption customises a Provider.
type ProviderOption func(*Provider)

// WithRefreshTimeout bounds every refresh call.
func WithRefreshTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) {
		if d > 0 {
			p.refreshTimeout = d
		}
	}
}

// WithRecorder attaches a refresh outcome recorder.
func WithRecorder(r RefreshRecorder) ProviderOption {
	return func(p *Provider) { p.recorder = r }
}

// WithClock overrides the time source used for token expiry checks.
func WithClock(now func() time.Time) ProviderOption {
	return func(p *Provider) { p.now = now }
}

// NewProvider constructs a Provider.
func NewProvider(api AuthAPI, sessions *shared.SessionManager, logger *slog.Logger, opts ...ProviderOption) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{
		api:            api,
		sessions:       sessions,
		refreshTimeout: 5 * time.Second,
		logger:         logger,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Resolve reads the session once and returns an immutable snapshot.
func (p *Provider) Resolve(sess *shared.Session) Snapshot {
	if sess == nil {
		return Snapshot{}
	}
	raw := sess.Get(actorKey)
	if raw == "" {
		return Anonymous()
	}
	var actor Actor
	if err := json.Unmarshal([]byte(raw), &actor); err != nil {
		p.logger.Warn("identity: discard unreadable actor", slog.Any("error", err))
		return Anonymous()
	}
	return AuthenticatedAs(actor)
}

// SendOTP requests a login code for phone.
func (p *Provider) SendOTP(ctx context.Context, phone string) error {
	if err := p.api.SendOTP(ctx, strings.TrimSpace(phone)); err != nil {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) {
			switch {
			case errors.Is(err, backend.ErrNotFound):
				return &shared.SafeError{Message: "User not found. Please check your phone number or contact admin.", Err: err}
			case errors.Is(err, backend.ErrRejected) && apiErr.Detail != "":
				return &shared.SafeError{Message: apiErr.Detail, Err: err}
			}
		}
		return fmt.Errorf("identity: send otp: %w", err)
	}
	return nil
}

// Login verifies the OTP and, on success, replaces the session identity as
// a single unit under a fresh session ID. Only admins may sign in.
func (p *Provider) Login(ctx context.Context, sess *shared.Session, creds Credentials) error {
	if sess == nil {
		return ErrNoSession
	}
	res, err := p.api.VerifyOTP(ctx, strings.TrimSpace(creds.Phone), strings.TrimSpace(creds.Code))
	if err != nil {
		switch {
		case errors.Is(err, backend.ErrUnauthorized), errors.Is(err, backend.ErrRejected), errors.Is(err, backend.ErrNotFound):
			return &AuthError{Reason: ReasonInvalidCredentials, Err: err}
		case errors.Is(err, backend.ErrMalformedResponse):
			return &AuthError{Reason: ReasonMalformedResponse, Err: err}
		default:
			return fmt.Errorf("identity: verify otp: %w", err)
		}
	}

	if strings.TrimSpace(res.User.Role) == "" {
		return &AuthError{Reason: ReasonMalformedResponse, Err: errors.New("user role not found in server response")}
	}
	actor := actorFromUser(res.User)
	if !actor.Role.AtLeast(authz.RoleAdmin) {
		return &AuthError{Reason: ReasonInsufficientRole}
	}
	if res.AccessToken == "" {
		return &AuthError{Reason: ReasonMissingToken}
	}

	data, err := json.Marshal(actor)
	if err != nil {
		return fmt.Errorf("identity: encode actor: %w", err)
	}
	p.sessions.Renew(sess)
	sess.Set(actorKey, string(data))
	sess.Set(accessTokenKey, res.AccessToken)
	if res.RefreshToken != "" {
		sess.Set(refreshTokenKey, res.RefreshToken)
	} else {
		sess.Delete(refreshTokenKey)
	}
	p.logger.Info("identity: login", slog.Int64("actor_id", actor.ID), slog.String("role", actor.Role.String()))
	return nil
}

// Logout clears the session identity unconditionally.
func (p *Provider) Logout(sess *shared.Session) {
	if sess == nil {
		return
	}
	sess.Delete(actorKey)
	sess.Delete(accessTokenKey)
	sess.Delete(refreshTokenKey)
	p.sessions.Destroy(sess)
}

// RefreshSession exchanges the refresh token for a new access token and
// reloads the actor so role changes take effect. A missing or rejected
// refresh token logs the session out and yields a *RefreshError. Transport
// failures are returned as plain errors and leave the session intact.
func (p *Provider) RefreshSession(ctx context.Context, sess *shared.Session) error {
	if sess == nil {
		return ErrNoSession
	}
	refreshToken := sess.Get(refreshTokenKey)
	if refreshToken == "" {
		p.observe("missing")
		p.Logout(sess)
		return &RefreshError{Reason: ReasonNoRefreshToken}
	}

	ctx, cancel := context.WithTimeout(ctx, p.refreshTimeout)
	defer cancel()

	accessToken, err := p.api.RefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) || errors.Is(err, backend.ErrRejected) {
			p.observe("rejected")
			p.Logout(sess)
			return &RefreshError{Reason: ReasonRefreshRejected, Err: err}
		}
		p.observe("error")
		return fmt.Errorf("identity: refresh: %w", err)
	}

	user, err := p.api.Me(backend.WithToken(ctx, accessToken))
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			p.observe("rejected")
			p.Logout(sess)
			return &RefreshError{Reason: ReasonRefreshRejected, Err: err}
		}
		p.observe("error")
		return fmt.Errorf("identity: reload actor: %w", err)
	}

	data, err := json.Marshal(actorFromUser(*user))
	if err != nil {
		return fmt.Errorf("identity: encode actor: %w", err)
	}
	sess.Set(accessTokenKey, accessToken)
	sess.Set(actorKey, string(data))
	p.observe("success")
	return nil
}

// AccessToken returns a bearer token for backend calls, refreshing it first
// when the JWT has expired.
func (p *Provider) AccessToken(ctx context.Context, sess *shared.Session) (string, error) {
	if sess == nil {
		return "", ErrNoSession
	}
	token := sess.Get(accessTokenKey)
	if token == "" {
		return "", ErrNoSession
	}
	if !p.expired(token) {
		return token, nil
	}
	if err := p.RefreshSession(ctx, sess); err != nil {
		return "", err
	}
	return sess.Get(accessTokenKey), nil
}

// BackendContext returns ctx carrying the session's bearer token for
// backend calls.
func (p *Provider) BackendContext(ctx context.Context, sess *shared.Session) (context.Context, error) {
	token, err := p.AccessToken(ctx, sess)
	if err != nil {
		return ctx, err
	}
	return backend.WithToken(ctx, token), nil
}

// expired reads the exp claim without verifying the signature; the backend
// remains the verifier. Opaque tokens are never considered expired.
func (p *Provider) expired(token string) bool {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !p.now().Before(claims.ExpiresAt.Time.Add(-10 * time.Second))
}

func (p *Provider) observe(outcome string) {
	if p.recorder != nil {
		p.recorder.ObserveRefresh(outcome)
	}
}
