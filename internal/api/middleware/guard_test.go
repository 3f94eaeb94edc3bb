package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/propdesk/propdesk/internal/api/middleware"
	"github.com/propdesk/propdesk/internal/session"
	"github.com/propdesk/propdesk/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const protectedBody = "secret dashboard"

func protectedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := middleware.GetManager(r.Context())
		if !ok {
			http.Error(w, "manager missing from context", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(protectedBody))
	})
}

func formHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("sign-in form"))
	})
}

func testConfig() session.Config {
	return session.Config{
		RetryAttempts: 3,
		RetryBase:     time.Millisecond,
		RefreshLead:   30 * time.Second,
	}
}

// signedInCookie creates a browser session, signs it in, and returns the
// registry plus a request factory carrying its cookie.
func signedInCookie(t *testing.T, provider *testutil.FakeProvider, creds *testutil.MemCredentialRepo) (*session.Registry, func(target string) *http.Request) {
	t.Helper()

	reg := session.NewRegistry(provider, creds, testConfig(), time.Hour, false)
	rec := httptest.NewRecorder()
	mgr, err := reg.GetOrCreate(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.NoError(t, err)
	require.NoError(t, mgr.SignIn(context.Background(), "jane@x.com", "pw"))

	cookies := rec.Result().Cookies()
	newReq := func(target string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		for _, c := range cookies {
			req.AddCookie(c)
		}
		return req
	}
	return reg, newReq
}

func TestRequireAuth_RedirectsAnonymousVisitor(t *testing.T) {
	reg := session.NewRegistry(&testutil.FakeProvider{}, testutil.NewMemCredentialRepo(), testConfig(), time.Hour, false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	middleware.RequireAuth(reg)(protectedHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, middleware.LoginPath, rec.Header().Get("Location"))
	assert.NotContains(t, rec.Body.String(), protectedBody)
}

func TestRequireAuth_RendersChildrenWhenAuthenticated(t *testing.T) {
	provider := &testutil.FakeProvider{SignInSession: testutil.NewSessionBuilder().Build()}
	reg, newReq := signedInCookie(t, provider, testutil.NewMemCredentialRepo())

	rec := httptest.NewRecorder()
	middleware.RequireAuth(reg)(protectedHandler()).ServeHTTP(rec, newReq("/dashboard"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), protectedBody)
}

func TestRequireAuth_NeverRendersProtectedContentWhileLoading(t *testing.T) {
	creds := testutil.NewMemCredentialRepo()
	sess := testutil.NewSessionBuilder().Build()
	provider := &testutil.FakeProvider{SignInSession: sess, RefreshSession_: sess}
	_, newReq := signedInCookie(t, provider, creds)

	// hold the restore in flight so the reconstructed manager stays loading
	gate := make(chan struct{})
	provider.RefreshGate = gate
	defer close(gate)

	restarted := session.NewRegistry(provider, creds, testConfig(), time.Hour, false)
	rec := httptest.NewRecorder()
	middleware.RequireAuth(restarted)(protectedHandler()).ServeHTTP(rec, newReq("/dashboard"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), protectedBody, "loading must not expose protected content")
	assert.Empty(t, rec.Header().Get("Location"), "loading must not redirect")
	assert.Contains(t, rec.Body.String(), "Loading")
}

func TestPublicOnly_ServesFormToAnonymousVisitor(t *testing.T) {
	reg := session.NewRegistry(&testutil.FakeProvider{}, testutil.NewMemCredentialRepo(), testConfig(), time.Hour, false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	middleware.PublicOnly(reg)(formHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sign-in form")
}

func TestPublicOnly_RedirectsAuthenticatedVisitor(t *testing.T) {
	provider := &testutil.FakeProvider{SignInSession: testutil.NewSessionBuilder().Build()}
	reg, newReq := signedInCookie(t, provider, testutil.NewMemCredentialRepo())

	rec := httptest.NewRecorder()
	middleware.PublicOnly(reg)(formHandler()).ServeHTTP(rec, newReq("/login"))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, middleware.LandingPath, rec.Header().Get("Location"))
}

func TestPublicOnly_ServesFormWhileLoading(t *testing.T) {
	creds := testutil.NewMemCredentialRepo()
	sess := testutil.NewSessionBuilder().Build()
	provider := &testutil.FakeProvider{SignInSession: sess, RefreshSession_: sess}
	_, newReq := signedInCookie(t, provider, creds)

	gate := make(chan struct{})
	provider.RefreshGate = gate
	defer close(gate)

	restarted := session.NewRegistry(provider, creds, testConfig(), time.Hour, false)
	rec := httptest.NewRecorder()
	middleware.PublicOnly(restarted)(formHandler()).ServeHTTP(rec, newReq("/login"))

	// optimistic: the form shows instead of a flash of redirect
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sign-in form")
}
