package model

import "time"

type NotificationType string

const (
	NotificationCapsuleCreated       NotificationType = "capsule_created"
	NotificationDeliverySuccess      NotificationType = "delivery_success"
	NotificationDeliveryFail         NotificationType = "delivery_fail"
	NotificationNewSharedCapsule     NotificationType = "new_shared_capsule"
	NotificationCapsuleOpened        NotificationType = "capsule_opened"
	NotificationReminder             NotificationType = "reminder"
	NotificationSystemAlert          NotificationType = "system_alert"
	NotificationTransferNotification NotificationType = "transfer_notification"
)

type Notification struct {
	ID        int64            `json:"id"`
	OwnerID   int64            `json:"user"`
	CapsuleID *int64           `json:"capsule,omitempty"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"notification_type"`
	IsRead    bool             `json:"is_read"`
	CreatedAt time.Time        `json:"created_at"`
	ReadAt    *time.Time       `json:"read_at,omitempty"`
}

// NotificationFilter controls List queries.
type NotificationFilter struct {
	OwnerID int64
	IsRead  *bool
	Limit   int // default 50
	Offset  int
}
