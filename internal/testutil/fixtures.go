package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/propdesk/propdesk/internal/domain"
)

// SessionBuilder creates test sessions with a builder pattern
type SessionBuilder struct {
	userID    uuid.UUID
	email     string
	fullName  string
	expiresIn time.Duration
	refresh   string
}

// NewSessionBuilder creates a new SessionBuilder with default values
func NewSessionBuilder() *SessionBuilder {
	return &SessionBuilder{
		userID:    uuid.New(),
		email:     fmt.Sprintf("user_%s@example.com", uuid.New().String()[:8]),
		fullName:  "Test User",
		expiresIn: time.Hour,
		refresh:   "refresh-" + uuid.New().String()[:8],
	}
}

func (b *SessionBuilder) WithUserID(id uuid.UUID) *SessionBuilder {
	b.userID = id
	return b
}

func (b *SessionBuilder) WithEmail(email string) *SessionBuilder {
	b.email = email
	return b
}

func (b *SessionBuilder) WithFullName(name string) *SessionBuilder {
	b.fullName = name
	return b
}

func (b *SessionBuilder) WithExpiresIn(d time.Duration) *SessionBuilder {
	b.expiresIn = d
	return b
}

func (b *SessionBuilder) WithRefreshToken(token string) *SessionBuilder {
	b.refresh = token
	return b
}

// Build returns the session without persisting anything.
func (b *SessionBuilder) Build() *domain.Session {
	return &domain.Session{
		AccessToken:  "access-" + uuid.New().String()[:8],
		RefreshToken: b.refresh,
		ExpiresAt:    time.Now().Add(b.expiresIn),
		User: domain.User{
			ID:       b.userID,
			Email:    b.email,
			Metadata: map[string]any{domain.MetadataFullNameKey: b.fullName},
		},
	}
}

// NewCredential returns an empty persisted credential for a fresh browser
// session.
func NewCredential() *domain.Credential {
	return &domain.Credential{ID: uuid.New(), SecretHash: "x"}
}

// NewCredentialWithRefresh returns a credential that carries a stored refresh
// token, as left behind by an earlier authenticated visit.
func NewCredentialWithRefresh(token string) *domain.Credential {
	cred := NewCredential()
	cred.RefreshToken = token
	return cred
}
