package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/propdesk/propdesk/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type credentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *credentialRepository {
	return &credentialRepository{db: db}
}

func (r *credentialRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Credential, error) {
	var cred domain.Credential
	err := r.db.WithContext(ctx).First(&cred, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cred, nil
}

func (r *credentialRepository) Save(ctx context.Context, cred *domain.Credential) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(cred).Error
}

func (r *credentialRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&domain.Credential{}, "id = ?", id).Error
}
