package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/propdesk/propdesk/internal/domain"
	"github.com/propdesk/propdesk/internal/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type profileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *profileRepository {
	return &profileRepository{db: db}
}

// Read enforces row-level ownership before touching the database: a caller
// may only read the row keyed by their own user ID.
func (r *profileRepository) Read(ctx context.Context, callerID, id uuid.UUID) (*domain.Profile, repository.ProfileReadOutcome, error) {
	if callerID != id {
		return nil, repository.ProfileDenied, nil
	}

	var profile domain.Profile
	err := r.db.WithContext(ctx).First(&profile, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ProfileNotProvisioned, nil
		}
		return nil, repository.ProfileTransportError, err
	}
	return &profile, repository.ProfileFound, nil
}

func (r *profileRepository) Insert(ctx context.Context, callerID uuid.UUID, profile *domain.Profile) error {
	if callerID != profile.ID {
		return domain.ErrUnauthorized
	}

	// DoNothing keeps the call idempotent: two racing provisioning attempts
	// persist exactly one row.
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(profile).Error
}

func (r *profileRepository) Update(ctx context.Context, callerID, id uuid.UUID, fields domain.ProfileFields) error {
	if callerID != id {
		return domain.ErrUnauthorized
	}

	res := r.db.WithContext(ctx).
		Model(&domain.Profile{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"full_name": fields.FullName,
			"email":     fields.Email,
			"phone":     fields.Phone,
		})
	if res.Error != nil {
		return res.Error
	}
	// zero rows means the profile was never provisioned, likely because the
	// caller is editing a transient fallback copy
	if res.RowsAffected == 0 {
		return domain.ErrPersistence
	}
	return nil
}
