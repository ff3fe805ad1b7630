package repository

import (
	"context"

	"github.com/nimasrn/time-capsule/internal/model"
	"github.com/nimasrn/time-capsule/pkg/pg"
)

type PrincipalRepository struct {
	*pg.DB
}

func NewPrincipalRepository(db *pg.DB) *PrincipalRepository {
	return &PrincipalRepository{
		db,
	}
}

func (r *PrincipalRepository) FindByID(ctx context.Context, id int64) (*model.Principal, error) {
	var entity UserEntity
	if err := r.Read(ctx).WithContext(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		return nil, notFound(err)
	}
	return toPrincipalModel(&entity), nil
}
