package repository

import (
	"time"

	"github.com/nimasrn/time-capsule/internal/model"
)

type NotificationEntity struct {
	ID        int64      `gorm:"primaryKey;autoIncrement;column:id"`
	OwnerID   int64      `gorm:"column:user_id;not null;index:idx_notification_owner_read,priority:1"`
	CapsuleID *int64     `gorm:"column:capsule_id;index"`
	Message   string     `gorm:"column:message;type:text;not null"`
	Type      string     `gorm:"column:notification_type;size:30;not null"`
	IsRead    bool       `gorm:"column:is_read;not null;default:false;index:idx_notification_owner_read,priority:2"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	ReadAt    *time.Time `gorm:"column:read_at"`
}

func (NotificationEntity) TableName() string {
	return "notifications"
}

func toNotificationEntity(n *model.Notification) *NotificationEntity {
	return &NotificationEntity{
		ID:        n.ID,
		OwnerID:   n.OwnerID,
		CapsuleID: n.CapsuleID,
		Message:   n.Message,
		Type:      string(n.Type),
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
		ReadAt:    n.ReadAt,
	}
}

func toNotificationModel(e *NotificationEntity) *model.Notification {
	return &model.Notification{
		ID:        e.ID,
		OwnerID:   e.OwnerID,
		CapsuleID: e.CapsuleID,
		Message:   e.Message,
		Type:      model.NotificationType(e.Type),
		IsRead:    e.IsRead,
		CreatedAt: e.CreatedAt,
		ReadAt:    e.ReadAt,
	}
}
