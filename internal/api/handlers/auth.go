package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/propdesk/propdesk/internal/api/middleware"
	"github.com/propdesk/propdesk/internal/domain"
	"github.com/propdesk/propdesk/internal/session"
)

const oauthStateCookie = "pd_oauth_state"

type AuthHandler struct {
	registry *session.Registry
	siteURL  string
}

func NewAuthHandler(registry *session.Registry, siteURL string) *AuthHandler {
	return &AuthHandler{registry: registry, siteURL: strings.TrimRight(siteURL, "/")}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignupRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ResetRequest struct {
	Email string `json:"email"`
}

type SessionResponse struct {
	Authenticated       bool   `json:"authenticated"`
	Loading             bool   `json:"loading"`
	Email               string `json:"email,omitempty"`
	FullName            string `json:"fullName,omitempty"`
	ConfirmationPending bool   `json:"confirmationPending,omitempty"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	mgr, err := h.registry.GetOrCreate(w, r)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := mgr.SignIn(r.Context(), req.Email, req.Password); err != nil {
		writeAuthError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" || req.FullName == "" {
		http.Error(w, "Full name, email and password are required", http.StatusBadRequest)
		return
	}

	mgr, err := h.registry.GetOrCreate(w, r)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	sess, err := mgr.SignUp(r.Context(), req.FullName, req.Email, req.Password, h.siteURL+middleware.LoginPath)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	// No session means the provider wants email confirmation first; the form
	// shows the "check your email" state instead of navigating away.
	resp := SessionResponse{
		Authenticated:       sess != nil,
		ConfirmationPending: sess == nil,
	}
	if sess != nil {
		resp.Email = sess.User.Email
		resp.FullName = sess.User.FullName()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *AuthHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" {
		http.Error(w, "Email is required", http.StatusBadRequest)
		return
	}

	mgr, err := h.registry.GetOrCreate(w, r)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Accepted is all the caller learns; whether the address is registered
	// never leaks.
	if err := mgr.ResetPassword(r.Context(), req.Email, h.siteURL+middleware.LoginPath); err != nil {
		writeAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	mgr := h.registry.Manager(r)
	if mgr == nil {
		// no session to invalidate; still a success
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := mgr.SignOut(r.Context()); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Session reports the current state for the page shell.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	resp := SessionResponse{}
	if mgr := h.registry.Manager(r); mgr != nil {
		resp.Loading = mgr.Loading()
		if sess := mgr.Session(); sess != nil {
			resp.Authenticated = true
			resp.Email = sess.User.Email
			resp.FullName = sess.User.FullName()
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// OAuthStart begins a redirect-based OAuth flow: a 302 to the provider's
// consent screen, with the target path carried in the state parameter and a
// nonce double-submitted via cookie.
func (h *AuthHandler) OAuthStart(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	redirectPath := r.URL.Query().Get("redirect")
	if redirectPath == "" || !strings.HasPrefix(redirectPath, "/") {
		redirectPath = middleware.LandingPath
	}

	mgr, err := h.registry.GetOrCreate(w, r)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	nonce := hex.EncodeToString(nonceBytes)

	consentURL, err := mgr.SignInWithProvider(providerName, h.siteURL+"/auth/callback?state="+nonce+"|"+redirectPath)
	if err != nil {
		log.Printf("ERROR [handlers.OAuthStart] %v", err)
		http.Error(w, "Failed to initiate OAuth flow", http.StatusBadGateway)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    nonce,
		Path:     "/auth/callback",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, consentURL, http.StatusFound)
}

// OAuthCallback completes the flow after the provider navigates back. All
// state is reconstructed from URL parameters and persisted credentials; no
// in-memory state survived the round trip.
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		log.Printf("WARN [handlers.OAuthCallback] provider returned error: %s", errParam)
		http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
		return
	}

	nonce, redirectPath := parseOAuthState(r.URL.Query().Get("state"))
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != nonce {
		http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
		return
	}

	mgr, err := h.registry.GetOrCreate(w, r)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if _, err := mgr.CompleteOAuth(r.Context(), code); err != nil {
		log.Printf("ERROR [handlers.OAuthCallback] code exchange failed: %v", err)
		http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
		return
	}

	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Path: "/auth/callback", MaxAge: -1})
	http.Redirect(w, r, redirectPath, http.StatusSeeOther)
}

func parseOAuthState(state string) (nonce, redirectPath string) {
	parts := strings.SplitN(state, "|", 2)
	nonce = parts[0]
	redirectPath = middleware.LandingPath
	if len(parts) == 2 && strings.HasPrefix(parts[1], "/") {
		redirectPath = parts[1]
	}
	return nonce, redirectPath
}

// writeAuthError maps domain errors onto inline form responses. Transport
// detail never reaches the user; ErrProviderUnavailable is always a generic
// "try again".
func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		http.Error(w, "Invalid email or password", http.StatusUnauthorized)
	case errors.Is(err, domain.ErrEmailAlreadyRegistered):
		http.Error(w, "An account with this email already exists", http.StatusConflict)
	case errors.Is(err, domain.ErrWeakPassword):
		http.Error(w, "Password does not meet requirements", http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrProviderUnavailable):
		http.Error(w, "Something went wrong. Please try again.", http.StatusBadGateway)
	default:
		log.Printf("ERROR [handlers.writeAuthError] %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
