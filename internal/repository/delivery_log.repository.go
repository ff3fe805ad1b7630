package repository

import (
	"context"

	"github.com/nimasrn/time-capsule/internal/model"
	"github.com/nimasrn/time-capsule/pkg/pg"
)

// DeliveryLogRepository only appends. Rows go away with their capsule.
type DeliveryLogRepository struct {
	*pg.DB
}

func NewDeliveryLogRepository(db *pg.DB) *DeliveryLogRepository {
	return &DeliveryLogRepository{
		db,
	}
}

func (r *DeliveryLogRepository) Append(ctx context.Context, l *model.DeliveryLog) (*model.DeliveryLog, error) {
	entity := toDeliveryLogEntity(l)
	entity.ID = 0

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toDeliveryLogModel(entity), nil
}

// ListByCapsule returns attempts oldest first.
func (r *DeliveryLogRepository) ListByCapsule(ctx context.Context, capsuleID int64) ([]*model.DeliveryLog, error) {
	var entities []*DeliveryLogEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("capsule_id = ?", capsuleID).
		Order("delivery_attempt_date ASC, id ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}

	logs := make([]*model.DeliveryLog, len(entities))
	for i, e := range entities {
		logs[i] = toDeliveryLogModel(e)
	}
	return logs, nil
}
