package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimdesk/claimdesk/internal/authz"
	"github.com/claimdesk/claimdesk/internal/backend"
	"github.com/claimdesk/claimdesk/internal/shared"
)

type fakeAPI struct {
	login       *backend.LoginResult
	loginErr    error
	refreshed   string
	refreshErr  error
	me          *backend.User
	meErr       error
	refreshSeen []string
	sendErr     error
}

func (f *fakeAPI) SendOTP(context.Context, string) error { return f.sendErr }

func (f *fakeAPI) VerifyOTP(context.Context, string, string) (*backend.LoginResult, error) {
	return f.login, f.loginErr
}

func (f *fakeAPI) RefreshToken(_ context.Context, token string) (string, error) {
	f.refreshSeen = append(f.refreshSeen, token)
	return f.refreshed, f.refreshErr
}

func (f *fakeAPI) Me(context.Context) (*backend.User, error) { return f.me, f.meErr }

type outcomes []string

func (o *outcomes) ObserveRefresh(outcome string) { *o = append(*o, outcome) }

func newProvider(t *testing.T, api AuthAPI, opts ...ProviderOption) (*Provider, *shared.SessionManager, *shared.Session) {
	t.Helper()
	mr := miniredis.RunT(t)
	sm := shared.NewSessionManager(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "claimdesk_session", time.Hour, false)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	return NewProvider(api, sm, nil, opts...), sm, sess
}

func adminLogin() *backend.LoginResult {
	return &backend.LoginResult{
		User:         backend.User{ID: 3, FullName: "Abebe Kebede", PhoneNumber: "+251911", Role: "admin", CreatedAt: "2024-05-01T10:00:00"},
		AccessToken:  "access",
		RefreshToken: "refresh",
	}
}

func TestResolveDistinguishesLoadingFromAnonymous(t *testing.T) {
	p, _, sess := newProvider(t, &fakeAPI{})

	loading := p.Resolve(nil)
	assert.True(t, loading.Loading())
	assert.False(t, loading.Authenticated())

	anon := p.Resolve(sess)
	assert.False(t, anon.Loading())
	assert.False(t, anon.Authenticated())
	assert.Equal(t, authz.Role(""), anon.GetRole())
}

func TestLoginStoresActor(t *testing.T) {
	p, _, sess := newProvider(t, &fakeAPI{login: adminLogin()})
	oldID := sess.ID

	require.NoError(t, p.Login(context.Background(), sess, Credentials{Phone: "+251911", Code: "123456"}))

	snap := p.Resolve(sess)
	require.True(t, snap.Authenticated())
	actor, _ := snap.Actor()
	assert.Equal(t, int64(3), actor.ID)
	assert.Equal(t, authz.RoleAdmin, actor.Role)
	assert.Equal(t, 2024, actor.CreatedAt.Year())
	assert.NotEqual(t, oldID, sess.ID)
}

func TestLoginFailures(t *testing.T) {
	user := adminLogin()
	user.User.Role = "user"
	noToken := adminLogin()
	noToken.AccessToken = ""
	noRole := adminLogin()
	noRole.User.Role = ""

	cases := []struct {
		name   string
		api    *fakeAPI
		reason AuthReason
	}{
		{"wrong code", &fakeAPI{loginErr: &backend.APIError{Status: http.StatusBadRequest}}, ReasonInvalidCredentials},
		{"plain user", &fakeAPI{login: user}, ReasonInsufficientRole},
		{"missing token", &fakeAPI{login: noToken}, ReasonMissingToken},
		{"missing role", &fakeAPI{login: noRole}, ReasonMalformedResponse},
		{"garbled body", &fakeAPI{loginErr: backend.ErrMalformedResponse}, ReasonMalformedResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, _, sess := newProvider(t, tc.api)
			err := p.Login(context.Background(), sess, Credentials{Phone: "1", Code: "2"})
			var authErr *AuthError
			require.True(t, errors.As(err, &authErr), "got %v", err)
			assert.Equal(t, tc.reason, authErr.Reason)
			assert.False(t, p.Resolve(sess).Authenticated())
		})
	}
}

func TestInsufficientRoleMessage(t *testing.T) {
	err := &AuthError{Reason: ReasonInsufficientRole}
	assert.Equal(t, "Insufficient permissions. Admin access required.", err.Message())
}

func TestLogoutClearsIdentity(t *testing.T) {
	p, _, sess := newProvider(t, &fakeAPI{login: adminLogin()})
	require.NoError(t, p.Login(context.Background(), sess, Credentials{}))

	p.Logout(sess)
	assert.False(t, p.Resolve(sess).Authenticated())
	p.Logout(nil)
}

func TestRefreshSessionReloadsActor(t *testing.T) {
	rec := &outcomes{}
	api := &fakeAPI{
		login:     adminLogin(),
		refreshed: "new-access",
		me:        &backend.User{ID: 3, Role: "super_admin", FullName: "Abebe Kebede"},
	}
	p, _, sess := newProvider(t, api, WithRecorder(rec))
	require.NoError(t, p.Login(context.Background(), sess, Credentials{}))

	require.NoError(t, p.RefreshSession(context.Background(), sess))
	assert.Equal(t, []string{"refresh"}, api.refreshSeen)
	assert.Equal(t, authz.RoleSuperAdmin, p.Resolve(sess).GetRole())
	assert.Equal(t, []string{"success"}, []string(*rec))
}

func TestRefreshSessionRejectedForcesLogout(t *testing.T) {
	api := &fakeAPI{login: adminLogin(), refreshErr: &backend.APIError{Status: http.StatusUnauthorized}}
	p, _, sess := newProvider(t, api)
	require.NoError(t, p.Login(context.Background(), sess, Credentials{}))

	err := p.RefreshSession(context.Background(), sess)
	assert.True(t, IsRefreshError(err))
	assert.False(t, p.Resolve(sess).Authenticated())
}

func TestRefreshSessionWithoutRefreshToken(t *testing.T) {
	login := adminLogin()
	login.RefreshToken = ""
	api := &fakeAPI{login: login}
	p, _, sess := newProvider(t, api)
	require.NoError(t, p.Login(context.Background(), sess, Credentials{}))

	var refreshErr *RefreshError
	require.True(t, errors.As(p.RefreshSession(context.Background(), sess), &refreshErr))
	assert.Equal(t, ReasonNoRefreshToken, refreshErr.Reason)
	assert.Empty(t, api.refreshSeen)
}

func TestRefreshSessionTransportErrorKeepsSession(t *testing.T) {
	api := &fakeAPI{login: adminLogin(), refreshErr: errors.New("dial tcp: connection refused")}
	p, _, sess := newProvider(t, api)
	require.NoError(t, p.Login(context.Background(), sess, Credentials{}))

	err := p.RefreshSession(context.Background(), sess)
	require.Error(t, err)
	assert.False(t, IsRefreshError(err))
	assert.True(t, p.Resolve(sess).Authenticated())
}

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)})
	s, err := token.SignedString([]byte("test"))
	require.NoError(t, err)
	return s
}

func TestAccessTokenRefreshesExpiredJWT(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	login := adminLogin()
	login.AccessToken = signed(t, now.Add(-time.Minute))
	api := &fakeAPI{login: login, refreshed: "fresh", me: &login.User}
	p, _, sess := newProvider(t, api, WithClock(func() time.Time { return now }))
	require.NoError(t, p.Login(context.Background(), sess, Credentials{}))

	token, err := p.AccessToken(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
}

func TestAccessTokenKeepsValidToken(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	login := adminLogin()
	login.AccessToken = signed(t, now.Add(time.Hour))
	api := &fakeAPI{login: login}
	p, _, sess := newProvider(t, api, WithClock(func() time.Time { return now }))
	require.NoError(t, p.Login(context.Background(), sess, Credentials{}))

	token, err := p.AccessToken(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, login.AccessToken, token)
	assert.Empty(t, api.refreshSeen)
}

func TestSendOTPMapsNotFound(t *testing.T) {
	p, _, _ := newProvider(t, &fakeAPI{sendErr: &backend.APIError{Status: http.StatusNotFound}})
	err := p.SendOTP(context.Background(), "+1")
	assert.Equal(t, "User not found. Please check your phone number or contact admin.", shared.UserSafeMessage(err))
}

func TestMiddlewareAttachesSnapshot(t *testing.T) {
	p, _, sess := newProvider(t, &fakeAPI{login: adminLogin()})
	require.NoError(t, p.Login(context.Background(), sess, Credentials{}))

	var got Snapshot
	h := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = SnapshotFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, got.Authenticated())
	assert.True(t, authz.HasPermission(got, authz.WriteCompanies))
	assert.True(t, authz.HasPermission(PrincipalFromRequest(req.WithContext(ContextWithSnapshot(req.Context(), got))), authz.ReadUsers))
}
