package guard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimdesk/claimdesk/internal/authz"
	"github.com/claimdesk/claimdesk/internal/identity"
	"github.com/claimdesk/claimdesk/internal/shared"
	"github.com/claimdesk/claimdesk/internal/view"
)

type fakeRefresher struct {
	calls     int
	err       error
	during    func()
	loggedOut bool
}

func (f *fakeRefresher) RefreshSession(context.Context, *shared.Session) error {
	f.calls++
	if f.during != nil {
		f.during()
	}
	return f.err
}

func (f *fakeRefresher) Logout(*shared.Session) { f.loggedOut = true }

type fixture struct {
	gk      *Gatekeeper
	store   *RedisRetryStore
	sess    *shared.Session
	refresh *fakeRefresher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sm := shared.NewSessionManager(client, "claimdesk_session", time.Hour, false)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	engine, err := view.NewEngine()
	require.NoError(t, err)

	store := NewRedisRetryStore(client, time.Minute)
	refresher := &fakeRefresher{err: errors.New("backend unavailable")}
	return &fixture{
		gk: &Gatekeeper{
			Store:     store,
			Identity:  refresher,
			Templates: engine,
			CSRF:      shared.NewCSRFManager("secret"),
			LoginPath: "/auth/login",
		},
		store:   store,
		sess:    sess,
		refresh: refresher,
	}
}

func (f *fixture) request(method, target string, form url.Values, snap identity.Snapshot) *http.Request {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	ctx := shared.ContextWithSession(req.Context(), f.sess)
	ctx = identity.ContextWithSnapshot(ctx, snap)
	return req.WithContext(ctx)
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("protected content"))
})

var viewIDPattern = regexp.MustCompile(`name="view_id" value="([0-9a-f-]+)"`)

func (f *fixture) protect(t *testing.T, target string, snap identity.Snapshot) *httptest.ResponseRecorder {
	t.Helper()
	res := httptest.NewRecorder()
	f.gk.Protect(RequireRole(authz.RoleAdmin))(okHandler).ServeHTTP(res, f.request(http.MethodGet, target, nil, snap))
	return res
}

func TestProtectAuthorized(t *testing.T) {
	f := newFixture(t)
	res := f.protect(t, "/admin", as(authz.RoleAdmin))
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "protected content", res.Body.String())
}

func TestProtectRedirectsAnonymousOnce(t *testing.T) {
	f := newFixture(t)
	res := f.protect(t, "/admin?tab=claims", identity.Anonymous())
	assert.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/auth/login?next=%2Fadmin%3Ftab%3Dclaims", res.Header().Get("Location"))
	assert.NotContains(t, res.Body.String(), "protected content")
}

func TestProtectWhileLoading(t *testing.T) {
	f := newFixture(t)
	res := f.protect(t, "/admin", identity.Snapshot{})
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)
	assert.NotContains(t, res.Body.String(), "protected content")
}

func TestProtectRendersDeniedView(t *testing.T) {
	f := newFixture(t)
	res := f.protect(t, "/admin", as(authz.RoleUser))

	require.Equal(t, http.StatusForbidden, res.Code)
	body := res.Body.String()
	assert.NotContains(t, body, "protected content")
	assert.Contains(t, body, "Access Denied")
	assert.Contains(t, body, "at least Admin")
	assert.Contains(t, body, "Logged in as Test")
	assert.Contains(t, body, "Retry (0/3)")
	assert.Contains(t, body, "Logout and Login with Different Account")
	assert.Regexp(t, viewIDPattern, body)
}

func TestRetryBoundedToThreeRefreshCalls(t *testing.T) {
	f := newFixture(t)
	user := as(authz.RoleUser)
	denied := f.protect(t, "/admin", user)
	viewID := viewIDPattern.FindStringSubmatch(denied.Body.String())[1]

	var location string
	for press := 1; press <= 4; press++ {
		res := httptest.NewRecorder()
		form := url.Values{"view_id": {viewID}, "next": {"/admin"}}
		f.gk.Retry(res, f.request(http.MethodPost, "/access/retry", form, user))
		require.Equal(t, http.StatusSeeOther, res.Code)
		location = res.Header().Get("Location")
	}
	assert.Equal(t, MaxAttempts, f.refresh.calls)
	assert.Equal(t, "/admin?view="+viewID, location)

	again := f.protect(t, location, user)
	assert.Contains(t, again.Body.String(), "Retry (3/3)")
	assert.Contains(t, again.Body.String(), "backend unavailable")
	assert.Contains(t, again.Body.String(), "disabled")
}

func TestRetrySuccessReturnsToPage(t *testing.T) {
	f := newFixture(t)
	f.refresh.err = nil
	user := as(authz.RoleUser)
	viewID := viewIDPattern.FindStringSubmatch(f.protect(t, "/settings", user).Body.String())[1]

	res := httptest.NewRecorder()
	f.gk.Retry(res, f.request(http.MethodPost, "/access/retry", url.Values{"view_id": {viewID}, "next": {"/settings"}}, user))
	assert.Equal(t, "/settings?view="+viewID, res.Header().Get("Location"))

	// Still denied after the refresh: the same view keeps its counter.
	again := f.protect(t, "/settings?view="+viewID, user)
	assert.Contains(t, again.Body.String(), "Retry (1/3)")

	// Promoted by the refresh: the page renders.
	promoted := f.protect(t, "/settings?view="+viewID, as(authz.RoleAdmin))
	assert.Equal(t, http.StatusOK, promoted.Code)
}

func TestRetryDiscardsResultForDismountedView(t *testing.T) {
	f := newFixture(t)
	f.refresh.err = nil
	user := as(authz.RoleUser)
	viewID := viewIDPattern.FindStringSubmatch(f.protect(t, "/admin", user).Body.String())[1]
	f.refresh.during = func() {
		_, err := f.store.Update(context.Background(), viewID, f.sess.ID, func(st *RetryState) error {
			st.Dismount()
			return nil
		})
		require.NoError(t, err)
	}

	res := httptest.NewRecorder()
	f.gk.Retry(res, f.request(http.MethodPost, "/access/retry", url.Values{"view_id": {viewID}, "next": {"/admin"}}, user))
	assert.Equal(t, "/auth/login", res.Header().Get("Location"))

	st, err := f.store.Load(context.Background(), viewID, f.sess.ID)
	require.NoError(t, err)
	assert.True(t, st.Dismounted)
	assert.Empty(t, st.LastError)
}

func TestRetryRejectsForeignView(t *testing.T) {
	f := newFixture(t)
	viewID, err := f.store.Mount(context.Background(), "someone-else")
	require.NoError(t, err)

	res := httptest.NewRecorder()
	f.gk.Retry(res, f.request(http.MethodPost, "/access/retry", url.Values{"view_id": {viewID}, "next": {"//evil.example"}}, as(authz.RoleUser)))
	assert.Equal(t, "/", res.Header().Get("Location"))
	assert.Equal(t, 0, f.refresh.calls)
}

func TestRetryRefreshErrorLogsOut(t *testing.T) {
	f := newFixture(t)
	f.refresh.err = &identity.RefreshError{Reason: identity.ReasonRefreshRejected}
	user := as(authz.RoleUser)
	viewID := viewIDPattern.FindStringSubmatch(f.protect(t, "/admin", user).Body.String())[1]

	res := httptest.NewRecorder()
	f.gk.Retry(res, f.request(http.MethodPost, "/access/retry", url.Values{"view_id": {viewID}, "next": {"/admin"}}, user))
	assert.Equal(t, "/auth/login", res.Header().Get("Location"))
}

func TestLogoutDismountsAndClears(t *testing.T) {
	f := newFixture(t)
	user := as(authz.RoleUser)
	viewID := viewIDPattern.FindStringSubmatch(f.protect(t, "/admin", user).Body.String())[1]

	res := httptest.NewRecorder()
	f.gk.Logout(res, f.request(http.MethodPost, "/access/logout", url.Values{"view_id": {viewID}}, user))
	assert.Equal(t, "/auth/login", res.Header().Get("Location"))
	assert.True(t, f.refresh.loggedOut)

	st, err := f.store.Load(context.Background(), viewID, f.sess.ID)
	require.NoError(t, err)
	assert.True(t, st.Dismounted)
}

func TestRetryFinishesWhenClientDisconnects(t *testing.T) {
	f := newFixture(t)
	user := as(authz.RoleUser)
	viewID := viewIDPattern.FindStringSubmatch(f.protect(t, "/admin", user).Body.String())[1]
	form := url.Values{"view_id": {viewID}, "next": {"/admin"}}

	req := f.request(http.MethodPost, "/access/retry", form, user)
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	f.refresh.during = cancel
	f.gk.Retry(httptest.NewRecorder(), req.WithContext(ctx))
	f.refresh.during = nil

	st, err := f.store.Load(context.Background(), viewID, f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Attempts)
	assert.False(t, st.InFlight)
	assert.Equal(t, "backend unavailable", st.LastError)

	for press := 0; press < 3; press++ {
		f.gk.Retry(httptest.NewRecorder(), f.request(http.MethodPost, "/access/retry", form, user))
	}
	assert.Equal(t, MaxAttempts, f.refresh.calls)

	again := f.protect(t, "/admin?view="+viewID, user)
	assert.Contains(t, again.Body.String(), "Retry (3/3)")
	assert.Contains(t, again.Body.String(), "disabled")
}

func TestRetryTakesOverAbandonedAttempt(t *testing.T) {
	f := newFixture(t)
	user := as(authz.RoleUser)
	viewID := viewIDPattern.FindStringSubmatch(f.protect(t, "/admin", user).Body.String())[1]
	_, err := f.store.Update(context.Background(), viewID, f.sess.ID, func(st *RetryState) error {
		_, err := st.Begin(time.Now().Add(-time.Hour), time.Minute)
		return err
	})
	require.NoError(t, err)

	pending := f.protect(t, "/admin?view="+viewID, user)
	assert.Contains(t, pending.Body.String(), "Retry (1/3)")
	assert.NotContains(t, pending.Body.String(), "Retrying")

	f.gk.Retry(httptest.NewRecorder(), f.request(http.MethodPost, "/access/retry", url.Values{"view_id": {viewID}, "next": {"/admin"}}, user))

	assert.Equal(t, 1, f.refresh.calls)
	st, err := f.store.Load(context.Background(), viewID, f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Attempts)
	assert.False(t, st.InFlight)
}

func TestRetryInFlightDisablesButton(t *testing.T) {
	f := newFixture(t)
	user := as(authz.RoleUser)
	viewID := viewIDPattern.FindStringSubmatch(f.protect(t, "/admin", user).Body.String())[1]
	_, err := f.store.Update(context.Background(), viewID, f.sess.ID, func(st *RetryState) error {
		_, err := st.Begin(time.Now(), time.Minute)
		return err
	})
	require.NoError(t, err)

	res := f.protect(t, "/admin?view="+viewID, user)
	assert.Contains(t, res.Body.String(), "Retrying (1/3)")
	assert.Contains(t, res.Body.String(), "disabled")

	f.gk.Retry(httptest.NewRecorder(), f.request(http.MethodPost, "/access/retry", url.Values{"view_id": {viewID}, "next": {"/admin"}}, user))
	assert.Equal(t, 0, f.refresh.calls)
}
