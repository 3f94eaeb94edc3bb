package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MetadataFullNameKey is where the display name supplied at sign-up lives in
// the identity provider's user metadata.
const MetadataFullNameKey = "full_name"

// User is the identity provider's canonical record for a principal. It is
// owned by the provider and never persisted locally.
type User struct {
	ID       uuid.UUID      `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"metadata"`
}

// FullName returns the display name from metadata, or "" if absent.
func (u User) FullName() string {
	if name, ok := u.Metadata[MetadataFullNameKey].(string); ok {
		return name
	}
	return ""
}

// Credential is the persisted record backing one browser session: the bcrypt
// hash of the cookie secret, the provider refresh token, and a cached snapshot
// of the user so the shell can render an identity before the session manager
// has settled.
type Credential struct {
	ID           uuid.UUID         `json:"id" gorm:"type:uuid;primary_key"`
	SecretHash   string            `json:"-" gorm:"not null"`
	RefreshToken string            `json:"-"`
	UserID       *uuid.UUID        `json:"userId" gorm:"type:uuid;index"`
	UserEmail    string            `json:"userEmail"`
	UserMetadata datatypes.JSONMap `json:"userMetadata"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}
