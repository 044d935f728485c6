// Package webtest builds the request plumbing handler tests share: a
// redis-backed session, a resolved identity snapshot and a page gate.
package webtest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/claimdesk/claimdesk/internal/authz"
	"github.com/claimdesk/claimdesk/internal/guard"
	"github.com/claimdesk/claimdesk/internal/identity"
	"github.com/claimdesk/claimdesk/internal/shared"
	"github.com/claimdesk/claimdesk/internal/view"
)

var once sync.Once

// Importing webtest switches the binaries into test mode and points the
// backend at a closed port.
func init() {
	once.Do(func() {
		if os.Getenv("CLAIMDESK_TEST_MODE") == "" {
			_ = os.Setenv("CLAIMDESK_TEST_MODE", "1")
		}
		if os.Getenv("BACKEND_URL") == "" {
			_ = os.Setenv("BACKEND_URL", "http://127.0.0.1:1")
		}
	})
}

// Env bundles the collaborators handlers are built from.
type Env struct {
	Redis     *redis.Client
	Sessions  *shared.SessionManager
	CSRF      *shared.CSRFManager
	Templates *view.Engine
	Gate      *guard.Gatekeeper
	Authz     authz.Middleware
}

type noopRefresher struct{}

func (noopRefresher) RefreshSession(context.Context, *shared.Session) error { return nil }

func (noopRefresher) Logout(*shared.Session) {}

// New starts a miniredis instance and wires an Env around it.
func New(t *testing.T) *Env {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	templates, err := view.NewEngine()
	require.NoError(t, err)
	csrf := shared.NewCSRFManager("test-csrf")
	enforcer, err := authz.NewEnforcer()
	require.NoError(t, err)
	return &Env{
		Redis:     client,
		Sessions:  shared.NewSessionManager(client, "test_session", time.Hour, false),
		CSRF:      csrf,
		Templates: templates,
		Gate: &guard.Gatekeeper{
			Store:     guard.NewRedisRetryStore(client, time.Minute),
			Identity:  noopRefresher{},
			Templates: templates,
			CSRF:      csrf,
			LoginPath: "/auth/login",
		},
		Authz: authz.Middleware{Principal: identity.PrincipalFromRequest, Enforcer: enforcer},
	}
}

// Actor returns an active actor with the given role.
func Actor(id int64, role authz.Role) identity.Actor {
	return identity.Actor{
		ID:          id,
		PhoneNumber: "+15550000",
		FullName:    "Test " + role.DisplayName(),
		Role:        role,
		IsActive:    true,
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Request builds a request carrying a fresh session and, when actor is not
// nil, an authenticated snapshot. Form values are sent url-encoded.
func (e *Env) Request(t *testing.T, method, target string, form url.Values, actor *identity.Actor) *http.Request {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	sess, err := e.Sessions.Load(req.Context(), req)
	require.NoError(t, err)
	ctx := shared.ContextWithSession(req.Context(), sess)
	snap := identity.Anonymous()
	if actor != nil {
		snap = identity.AuthenticatedAs(*actor)
	}
	return req.WithContext(identity.ContextWithSnapshot(ctx, snap))
}

// Serve runs req through h and returns the recorder.
func Serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
