package repository

import (
	"context"

	"github.com/pitabwire/frame"
	"gorm.io/gorm"
)

type abstractRepository struct {
	service *frame.Service
}

func (repo *abstractRepository) readDb(ctx context.Context) *gorm.DB {
	return repo.service.DB(ctx, true)
}

func (repo *abstractRepository) writeDb(ctx context.Context) *gorm.DB {
	return repo.service.DB(ctx, false)
}
