// Package identity is the client of the external identity provider. It never
// validates credentials itself; it exchanges them with the provider's REST API
// and maps provider failures onto domain errors.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/propdesk/propdesk/internal/domain"
)

// Provider is the abstract identity-provider surface the session layer
// depends on. A nil Session with a nil error from SignUp means the account
// was created but email confirmation is pending.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any, emailRedirectTo string) (*domain.Session, error)
	SendPasswordReset(ctx context.Context, email, redirectTo string) error
	SignOut(ctx context.Context, accessToken string) error
	RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error)
	ExchangeCode(ctx context.Context, code string) (*domain.Session, error)
	AuthorizeURL(provider, redirectTo string) (string, error)
}

// Client talks to a GoTrue-compatible auth endpoint.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
}

func NewClient(baseURL, anonKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// tokenResponse matches the provider's token and signup payloads. A signup
// response with no access token carries only the user.
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    int           `json:"expires_in"`
	User         *userResponse `json:"user"`

	// signup without auto-confirm returns the bare user at the top level
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata"`
}

type userResponse struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Code             string `json:"error_code"`
	Msg              string `json:"msg"`
}

func (e *errorResponse) message() string {
	if e.ErrorDescription != "" {
		return e.ErrorDescription
	}
	if e.Msg != "" {
		return e.Msg
	}
	return e.Error
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	body := map[string]string{"email": email, "password": password}
	resp, err := c.post(ctx, "/token?grant_type=password", body, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, mapAuthError(resp, domain.ErrInvalidCredentials)
	}

	return decodeSession(resp.Body)
}

func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any, emailRedirectTo string) (*domain.Session, error) {
	path := "/signup"
	if emailRedirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(emailRedirectTo)
	}
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     metadata,
	}
	resp, err := c.post(ctx, path, body, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, mapSignUpError(resp)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("%w: decoding signup response: %v", domain.ErrProviderUnavailable, err)
	}

	// No tokens means the account exists but email confirmation is pending.
	if tr.AccessToken == "" {
		return nil, nil
	}
	return tr.session()
}

func (c *Client) SendPasswordReset(ctx context.Context, email, redirectTo string) error {
	path := "/recover"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	resp, err := c.post(ctx, path, map[string]string{"email": email}, "")
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	// The provider answers 200 whether or not the address is registered, so
	// only transport-level failures surface.
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: recover returned status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	resp, err := c.post(ctx, "/logout", nil, accessToken)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: logout returned status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error) {
	body := map[string]string{"refresh_token": refreshToken}
	resp, err := c.post(ctx, "/token?grant_type=refresh_token", body, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, mapAuthError(resp, domain.ErrInvalidCredentials)
	}
	return decodeSession(resp.Body)
}

func (c *Client) ExchangeCode(ctx context.Context, code string) (*domain.Session, error) {
	body := map[string]string{"auth_code": code}
	resp, err := c.post(ctx, "/token?grant_type=authorization_code", body, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, mapAuthError(resp, domain.ErrInvalidCredentials)
	}
	return decodeSession(resp.Body)
}

// AuthorizeURL builds the full-page navigation target for a redirect-based
// OAuth flow. The provider name is passed through; the provider rejects ones
// it does not support on arrival.
func (c *Client) AuthorizeURL(provider, redirectTo string) (string, error) {
	if provider == "" {
		return "", domain.ErrOAuthInitiationFailed
	}
	u, err := url.Parse(c.baseURL + "/authorize")
	if err != nil {
		return "", domain.ErrOAuthInitiationFailed
	}
	q := u.Query()
	q.Set("provider", provider)
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) post(ctx context.Context, path string, body any, accessToken string) (*http.Response, error) {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.anonKey)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.anonKey)
	}

	return c.httpClient.Do(req)
}

func decodeSession(r io.Reader) (*domain.Session, error) {
	var tr tokenResponse
	if err := json.NewDecoder(r).Decode(&tr); err != nil {
		return nil, fmt.Errorf("%w: decoding token response: %v", domain.ErrProviderUnavailable, err)
	}
	return tr.session()
}

func (tr *tokenResponse) session() (*domain.Session, error) {
	ur := tr.User
	if ur == nil {
		ur = &userResponse{ID: tr.ID, Email: tr.Email, Metadata: tr.Metadata}
	}
	userID, err := uuid.Parse(ur.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid user id in token response", domain.ErrProviderUnavailable)
	}

	expiresAt := time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	if tr.ExpiresIn == 0 {
		expiresAt = tokenExpiry(tr.AccessToken)
	}

	return &domain.Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    expiresAt,
		User: domain.User{
			ID:       userID,
			Email:    ur.Email,
			Metadata: ur.Metadata,
		},
	}, nil
}

// tokenExpiry recovers expiry from the access token's exp claim when the
// provider omits expires_in. The token is not verified here; the provider
// already vouched for it.
func tokenExpiry(accessToken string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func mapAuthError(resp *http.Response, badRequest error) error {
	var er errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&er)

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", badRequest, er.message())
	default:
		return fmt.Errorf("%w: status %d: %s", domain.ErrProviderUnavailable, resp.StatusCode, er.message())
	}
}

func mapSignUpError(resp *http.Response) error {
	var er errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&er)
	msg := strings.ToLower(er.message())

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	case er.Code == "user_already_exists" || strings.Contains(msg, "already registered"):
		return domain.ErrEmailAlreadyRegistered
	case er.Code == "weak_password" || strings.Contains(msg, "password"):
		return fmt.Errorf("%w: %s", domain.ErrWeakPassword, er.message())
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrWeakPassword, er.message())
	default:
		return fmt.Errorf("%w: status %d: %s", domain.ErrProviderUnavailable, resp.StatusCode, er.message())
	}
}
