package repository

import (
	"context"
	"time"

	"github.com/nimasrn/time-capsule/internal/model"
	"github.com/nimasrn/time-capsule/pkg/pg"
)

type NotificationRepository struct {
	*pg.DB
}

func NewNotificationRepository(db *pg.DB) *NotificationRepository {
	return &NotificationRepository{
		db,
	}
}

func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	entity := toNotificationEntity(n)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toNotificationModel(entity), nil
}

// List returns the owner's notifications, newest first.
func (r *NotificationRepository) List(ctx context.Context, f model.NotificationFilter) ([]*model.Notification, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&NotificationEntity{}).Where("user_id = ?", f.OwnerID)
	if f.IsRead != nil {
		q = q.Where("is_read = ?", *f.IsRead)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*NotificationEntity
	if err := q.Order("created_at DESC, id DESC").Limit(pageLimit(f.Limit)).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	notifications := make([]*model.Notification, len(entities))
	for i, e := range entities {
		notifications[i] = toNotificationModel(e)
	}
	return notifications, total, nil
}

func (r *NotificationRepository) CountUnread(ctx context.Context, ownerID int64) (int64, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&NotificationEntity{}).
		Where("user_id = ? AND is_read = ?", ownerID, false).
		Count(&count).
		Error
	return count, err
}

// MarkRead sets the read flag once. Marking an already read notification
// keeps its original read_at.
func (r *NotificationRepository) MarkRead(ctx context.Context, ownerID, id int64, at time.Time) (*model.Notification, error) {
	err := r.Write(ctx).WithContext(ctx).
		Model(&NotificationEntity{}).
		Where("id = ? AND user_id = ? AND is_read = ?", id, ownerID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at}).
		Error
	if err != nil {
		return nil, err
	}

	var entity NotificationEntity
	if err := r.Write(ctx).WithContext(ctx).Where("id = ? AND user_id = ?", id, ownerID).First(&entity).Error; err != nil {
		return nil, notFound(err)
	}
	return toNotificationModel(&entity), nil
}

// MarkAllRead returns how many notifications changed.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, ownerID int64, at time.Time) (int64, error) {
	result := r.Write(ctx).WithContext(ctx).
		Model(&NotificationEntity{}).
		Where("user_id = ? AND is_read = ?", ownerID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	return result.RowsAffected, result.Error
}
