package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/propdesk/propdesk/internal/domain"
)

// ProfileReadOutcome classifies a profile read so callers never inspect
// driver-specific status codes.
type ProfileReadOutcome int

const (
	ProfileFound ProfileReadOutcome = iota
	ProfileNotProvisioned
	ProfileDenied
	ProfileTransportError
)

// ProfileRepository stores application profiles under row-level ownership:
// every call carries the caller's own user ID and may only touch the row
// whose primary key matches it.
type ProfileRepository interface {
	// Read returns the profile and ProfileFound, or a nil profile with the
	// outcome explaining why. The error is only populated for
	// ProfileTransportError.
	Read(ctx context.Context, callerID, id uuid.UUID) (*domain.Profile, ProfileReadOutcome, error)
	// Insert creates the row if it does not exist yet. A concurrent insert of
	// the same ID is not an error; exactly one row results.
	Insert(ctx context.Context, callerID uuid.UUID, profile *domain.Profile) error
	Update(ctx context.Context, callerID, id uuid.UUID, fields domain.ProfileFields) error
}

// CredentialRepository persists browser-session credentials so a session can
// be reconstructed after the server or browser restarts.
type CredentialRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Credential, error)
	Save(ctx context.Context, cred *domain.Credential) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type Repositories struct {
	Profile    ProfileRepository
	Credential CredentialRepository
}
