package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/propdesk/propdesk/internal/api"
	"github.com/propdesk/propdesk/internal/config"
	"github.com/propdesk/propdesk/internal/domain"
	"github.com/propdesk/propdesk/internal/repository"
	"github.com/propdesk/propdesk/internal/session"
	"github.com/propdesk/propdesk/internal/sessionhub"
	"github.com/propdesk/propdesk/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	router   http.Handler
	registry *session.Registry
	provider *testutil.FakeProvider
	creds    *testutil.MemCredentialRepo
	profiles *testutil.MemProfileRepo
}

func newEnv(t *testing.T) *env {
	t.Helper()

	provider := &testutil.FakeProvider{}
	creds := testutil.NewMemCredentialRepo()
	profiles := testutil.NewMemProfileRepo()

	cfg := &config.Config{
		Port:               "8080",
		Environment:        "test",
		SiteURL:            "http://localhost:8080",
		SessionIdleTimeout: time.Hour,
	}

	registry := session.NewRegistry(provider, creds, session.Config{
		RetryAttempts: 3,
		RetryBase:     time.Millisecond,
		RefreshLead:   30 * time.Second,
	}, cfg.SessionIdleTimeout, false)
	go registry.Run()
	t.Cleanup(registry.Stop)

	hub := sessionhub.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	repos := &repository.Repositories{Profile: profiles, Credential: creds}
	router := api.NewRouter(registry, hub, repos, cfg)

	return &env{router: router, registry: registry, provider: provider, creds: creds, profiles: profiles}
}

func (e *env) do(req *http.Request, cookies []*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) login(t *testing.T, email, password string) []*http.Cookie {
	t.Helper()
	body := `{"email":"` + email + `","password":"` + password + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	rec := e.do(req, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	return rec.Result().Cookies()
}

func TestLogin_SetsSessionCookie(t *testing.T) {
	e := newEnv(t)
	e.provider.SignInSession = testutil.NewSessionBuilder().WithEmail("jane@x.com").Build()

	cookies := e.login(t, "jane@x.com", "correct-horse")

	var found bool
	for _, c := range cookies {
		if c.Name == session.CookieName {
			found = true
			assert.True(t, c.HttpOnly)
			assert.Contains(t, c.Value, ".")
		}
	}
	assert.True(t, found, "login must set the session cookie")
}

func TestLogin_WrongCredentials(t *testing.T) {
	e := newEnv(t)
	e.provider.SignInErr = domain.ErrInvalidCredentials

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"jane@x.com","password":"nope"}`))
	rec := e.do(req, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid email or password")
}

func TestLogin_ProviderOutageStaysGeneric(t *testing.T) {
	e := newEnv(t)
	e.provider.SignInErr = domain.ErrProviderUnavailable

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"jane@x.com","password":"pw"}`))
	rec := e.do(req, nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Something went wrong")
	assert.NotContains(t, rec.Body.String(), "provider")
}

func TestLogin_MissingFields(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"jane@x.com"}`))
	rec := e.do(req, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, e.provider.SignInCalls)
}

func TestSignup_ConfirmationPending(t *testing.T) {
	e := newEnv(t)
	// provider returns no session when the address needs email confirmation

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup",
		strings.NewReader(`{"fullName":"Jane Doe","email":"jane@x.com","password":"longenough"}`))
	rec := e.do(req, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Authenticated       bool `json:"authenticated"`
		ConfirmationPending bool `json:"confirmationPending"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Authenticated)
	assert.True(t, resp.ConfirmationPending)
}

func TestSignup_AutoConfirmed(t *testing.T) {
	e := newEnv(t)
	e.provider.SignUpSession = testutil.NewSessionBuilder().
		WithEmail("jane@x.com").WithFullName("Jane Doe").Build()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup",
		strings.NewReader(`{"fullName":"Jane Doe","email":"jane@x.com","password":"longenough"}`))
	rec := e.do(req, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Authenticated bool   `json:"authenticated"`
		Email         string `json:"email"`
		FullName      string `json:"fullName"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Authenticated)
	assert.Equal(t, "jane@x.com", resp.Email)
	assert.Equal(t, "Jane Doe", resp.FullName)
}

func TestSignup_DuplicateEmail(t *testing.T) {
	e := newEnv(t)
	e.provider.SignUpErr = domain.ErrEmailAlreadyRegistered

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup",
		strings.NewReader(`{"fullName":"Jane Doe","email":"jane@x.com","password":"longenough"}`))
	rec := e.do(req, nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already exists")
}

func TestReset_AlwaysAccepted(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/reset",
		strings.NewReader(`{"email":"whoever@x.com"}`))
	rec := e.do(req, nil)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, e.provider.ResetCalls)
}

func TestLogout_IsIdempotent(t *testing.T) {
	e := newEnv(t)

	// no cookie at all is still a success
	rec := e.do(httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	e.provider.SignInSession = testutil.NewSessionBuilder().Build()
	cookies := e.login(t, "jane@x.com", "pw")

	rec = e.do(httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil), cookies)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil), cookies)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSessionEndpoint_ReflectsState(t *testing.T) {
	e := newEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/v1/auth/session", nil), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var anon struct {
		Authenticated bool `json:"authenticated"`
		Loading       bool `json:"loading"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &anon))
	assert.False(t, anon.Authenticated)
	assert.False(t, anon.Loading)

	e.provider.SignInSession = testutil.NewSessionBuilder().WithEmail("jane@x.com").WithFullName("Jane Doe").Build()
	cookies := e.login(t, "jane@x.com", "pw")

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/v1/auth/session", nil), cookies)
	require.Equal(t, http.StatusOK, rec.Code)
	var authed struct {
		Authenticated bool   `json:"authenticated"`
		Email         string `json:"email"`
		FullName      string `json:"fullName"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &authed))
	assert.True(t, authed.Authenticated)
	assert.Equal(t, "jane@x.com", authed.Email)
	assert.Equal(t, "Jane Doe", authed.FullName)
}

func TestProtectedPage_FullLoginFlow(t *testing.T) {
	e := newEnv(t)

	// anonymous visit bounces to the sign-in view
	rec := e.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil), nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	e.provider.SignInSession = testutil.NewSessionBuilder().WithEmail("jane@x.com").WithFullName("Jane Doe").Build()
	cookies := e.login(t, "jane@x.com", "pw")

	rec = e.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil), cookies)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Dashboard")

	// and the public-only sign-in view now bounces away
	rec = e.do(httptest.NewRequest(http.MethodGet, "/login", nil), cookies)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
}

func TestProfileAPI_ProvisionsAndSaves(t *testing.T) {
	e := newEnv(t)
	e.provider.SignInSession = testutil.NewSessionBuilder().
		WithEmail("jane@x.com").WithFullName("Jane Doe").Build()
	cookies := e.login(t, "jane@x.com", "pw")

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil), cookies)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		FullName string `json:"fullName"`
		Email    string `json:"email"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Jane Doe", got.FullName)
	assert.Equal(t, "jane@x.com", got.Email)
	assert.Equal(t, 1, e.profiles.Rows(), "first read provisions the row")

	req := httptest.NewRequest(http.MethodPut, "/api/v1/profile",
		strings.NewReader(`{"fullName":"Jane D.","email":"jane@x.com","phone":"555-0100"}`))
	rec = e.do(req, cookies)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Jane D.", got.FullName)
	assert.Equal(t, 1, e.profiles.UpdateCalls)
}

func TestProfileAPI_RequiresAuth(t *testing.T) {
	e := newEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil), nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, 0, e.profiles.ReadCalls)
}

func TestOAuthCallback_RejectsMismatchedState(t *testing.T) {
	e := newEnv(t)
	e.provider.ExchangeSession = testutil.NewSessionBuilder().Build()

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state=forged%7C%2Fdashboard", nil)
	req.AddCookie(&http.Cookie{Name: "pd_oauth_state", Value: "genuine"})
	rec := e.do(req, nil)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	assert.Equal(t, 0, e.provider.ExchangeCalls)
}

func TestOAuthCallback_CompletesFlow(t *testing.T) {
	e := newEnv(t)
	e.provider.ExchangeSession = testutil.NewSessionBuilder().WithEmail("jane@x.com").Build()

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state=nonce1%7C%2Fsettings", nil)
	req.AddCookie(&http.Cookie{Name: "pd_oauth_state", Value: "nonce1"})
	rec := e.do(req, nil)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/settings", rec.Header().Get("Location"))
	assert.Equal(t, 1, e.provider.ExchangeCalls)

	// the minted session cookie now unlocks protected views
	rec2 := e.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil), rec.Result().Cookies())
	assert.Equal(t, http.StatusOK, rec2.Code)
}

func TestOAuthStart_RedirectsToConsent(t *testing.T) {
	e := newEnv(t)
	e.provider.AuthorizeResult = "https://id.example.com/authorize?provider=google"

	rec := e.do(httptest.NewRequest(http.MethodGet, "/auth/oauth/google?redirect=/settings", nil), nil)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, e.provider.AuthorizeResult, rec.Header().Get("Location"))

	var stateCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "pd_oauth_state" {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie, "consent redirect must set the state cookie")
	assert.True(t, stateCookie.HttpOnly)
}
