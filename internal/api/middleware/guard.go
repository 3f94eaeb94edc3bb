// Package middleware gates page subtrees on session state: protected views
// never render while authentication status is unknown, and settled redirects
// are replace-navigations so back-navigation cannot bounce between gated and
// ungated views.
package middleware

import (
	"context"
	"net/http"

	"github.com/propdesk/propdesk/internal/session"
)

type contextKey string

const (
	ManagerKey contextKey = "sessionManager"

	LoginPath   = "/login"
	LandingPath = "/dashboard"
)

// waitingPage is the neutral state shown while a manager is still restoring.
// It re-requests the page shortly; no protected content, no redirect.
const waitingPage = `<!doctype html>
<html><head><meta http-equiv="refresh" content="1"><title>Loading</title></head>
<body><p>Loading&hellip;</p></body></html>`

// RequireAuth wraps protected subtrees. While the session is loading it
// renders a neutral waiting state; once settled it redirects unauthenticated
// visitors to the sign-in view and otherwise passes the manager down in the
// request context.
func RequireAuth(registry *session.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mgr := registry.Manager(r)
			if mgr == nil {
				http.Redirect(w, r, LoginPath, http.StatusSeeOther)
				return
			}

			if mgr.Loading() {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(waitingPage))
				return
			}

			if mgr.Session() == nil {
				http.Redirect(w, r, LoginPath, http.StatusSeeOther)
				return
			}

			ctx := context.WithValue(r.Context(), ManagerKey, mgr)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PublicOnly wraps the sign-in, sign-up and reset views. While loading it
// optimistically serves the form, since an already-signed-out visitor is the
// common case; once settled, authenticated visitors are sent to the landing
// view.
func PublicOnly(registry *session.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mgr := registry.Manager(r)
			if mgr != nil && !mgr.Loading() && mgr.Session() != nil {
				http.Redirect(w, r, LandingPath, http.StatusSeeOther)
				return
			}

			if mgr != nil {
				r = r.WithContext(context.WithValue(r.Context(), ManagerKey, mgr))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetManager returns the session manager attached by the guard.
func GetManager(ctx context.Context) (*session.Manager, bool) {
	mgr, ok := ctx.Value(ManagerKey).(*session.Manager)
	return mgr, ok
}
