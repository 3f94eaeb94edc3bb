package domain

import (
	"time"

	"github.com/google/uuid"
)

// Profile is the application-owned, mutable extension of a provider User.
// Its primary key is the owning user's ID; at most one row exists per user.
type Profile struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	FullName  string    `json:"fullName"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProfileFields are the fields a user may edit on their own profile.
type ProfileFields struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

// DefaultProfile builds the row provisioned for a user that has none yet:
// display name from sign-up metadata, email from the provider record, phone
// unset.
func DefaultProfile(user User) *Profile {
	return &Profile{
		ID:       user.ID,
		FullName: user.FullName(),
		Email:    user.Email,
	}
}
