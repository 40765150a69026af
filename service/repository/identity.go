package repository

import (
	"context"

	"github.com/antinvestor/monarch-ach/service/models"
	"github.com/pitabwire/frame"
)

type IdentityRepository interface {
	GetByUserID(ctx context.Context, userID string) (*models.Identity, error)
	Save(ctx context.Context, identity *models.Identity) error
	Delete(ctx context.Context, identity *models.Identity) error
}

type identityRepository struct {
	abstractRepository
}

func NewIdentityRepository(ctx context.Context, service *frame.Service) IdentityRepository {
	return &identityRepository{abstractRepository{service: service}}
}

func (repo *identityRepository) GetByUserID(ctx context.Context, userID string) (*models.Identity, error) {
	identity := models.Identity{}
	err := repo.readDb(ctx).First(&identity, "user_id = ?", userID).Error
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

func (repo *identityRepository) Save(ctx context.Context, identity *models.Identity) error {
	return repo.writeDb(ctx).Save(identity).Error
}

func (repo *identityRepository) Delete(ctx context.Context, identity *models.Identity) error {
	return repo.writeDb(ctx).Delete(identity).Error
}
