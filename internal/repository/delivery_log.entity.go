package repository

import (
	"time"

	"github.com/nimasrn/time-capsule/internal/model"
)

type DeliveryLogEntity struct {
	ID             int64     `gorm:"primaryKey;autoIncrement;column:id"`
	CapsuleID      int64     `gorm:"column:capsule_id;not null;index"`
	AttemptedAt    time.Time `gorm:"column:delivery_attempt_date;not null;index"`
	DeliveryMethod string    `gorm:"column:delivery_method;size:20;not null"`
	RecipientEmail string    `gorm:"column:recipient_email;size:254;not null"`
	PrincipalID    *int64    `gorm:"column:recipient_user_id"`
	Status         string    `gorm:"column:status;size:20;not null"`
	ErrorMessage   string    `gorm:"column:error_message;type:text"`
	Details        string    `gorm:"column:details;type:text"`
}

func (DeliveryLogEntity) TableName() string {
	return "delivery_logs"
}

func toDeliveryLogEntity(l *model.DeliveryLog) *DeliveryLogEntity {
	return &DeliveryLogEntity{
		ID:             l.ID,
		CapsuleID:      l.CapsuleID,
		AttemptedAt:    l.AttemptedAt,
		DeliveryMethod: string(l.Method),
		RecipientEmail: l.RecipientEmail,
		PrincipalID:    l.PrincipalID,
		Status:         string(l.Status),
		ErrorMessage:   l.ErrorMessage,
		Details:        l.Details,
	}
}

func toDeliveryLogModel(e *DeliveryLogEntity) *model.DeliveryLog {
	return &model.DeliveryLog{
		ID:             e.ID,
		CapsuleID:      e.CapsuleID,
		AttemptedAt:    e.AttemptedAt,
		Method:         model.DeliveryMethod(e.DeliveryMethod),
		RecipientEmail: e.RecipientEmail,
		PrincipalID:    e.PrincipalID,
		Status:         model.DeliveryLogStatus(e.Status),
		ErrorMessage:   e.ErrorMessage,
		Details:        e.Details,
	}
}
