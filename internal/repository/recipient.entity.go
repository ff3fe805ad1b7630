package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/time-capsule/internal/model"
)

type RecipientEntity struct {
	ID               int64      `gorm:"primaryKey;autoIncrement;column:id"`
	CapsuleID        int64      `gorm:"column:capsule_id;not null;uniqueIndex:idx_capsule_recipient_email,priority:1"`
	RecipientEmail   string     `gorm:"column:recipient_email;size:254;not null;uniqueIndex:idx_capsule_recipient_email,priority:2"`
	PrincipalID      *int64     `gorm:"column:recipient_user_id;index"`
	Status           string     `gorm:"column:status;size:20;not null;default:pending;index"`
	AccessToken      *uuid.UUID `gorm:"column:access_token;type:uuid;uniqueIndex"`
	TokenGeneratedAt *time.Time `gorm:"column:token_generated_at"`
	SentAt           *time.Time `gorm:"column:sent_date"`
}

func (RecipientEntity) TableName() string {
	return "capsule_recipients"
}

func toRecipientEntity(r *model.CapsuleRecipient) *RecipientEntity {
	if r == nil {
		return nil
	}
	status := r.Status
	if status == "" {
		status = model.RecipientPending
	}
	return &RecipientEntity{
		ID:               r.ID,
		CapsuleID:        r.CapsuleID,
		RecipientEmail:   r.Email,
		PrincipalID:      r.PrincipalID,
		Status:           string(status),
		AccessToken:      r.AccessToken,
		TokenGeneratedAt: r.TokenGeneratedAt,
		SentAt:           r.SentAt,
	}
}

func toRecipientModel(e *RecipientEntity) *model.CapsuleRecipient {
	if e == nil {
		return nil
	}
	return &model.CapsuleRecipient{
		ID:               e.ID,
		CapsuleID:        e.CapsuleID,
		Email:            e.RecipientEmail,
		PrincipalID:      e.PrincipalID,
		Status:           model.RecipientStatus(e.Status),
		AccessToken:      e.AccessToken,
		TokenGeneratedAt: e.TokenGeneratedAt,
		SentAt:           e.SentAt,
	}
}

func toRecipientModels(entities []*RecipientEntity) []*model.CapsuleRecipient {
	if entities == nil {
		return nil
	}
	models := make([]*model.CapsuleRecipient, len(entities))
	for i, e := range entities {
		models[i] = toRecipientModel(e)
	}
	return models
}
