package repository

import (
	"fmt"
	"time"

	"github.com/nimasrn/time-capsule/internal/model"
	"gorm.io/datatypes"
)

type CapsuleEntity struct {
	ID                     int64              `gorm:"primaryKey;autoIncrement;column:id"`
	OwnerID                int64              `gorm:"column:owner_id;not null;index"`
	Title                  string             `gorm:"column:title;size:255;not null"`
	Description            string             `gorm:"column:description;type:text"`
	CreatedAt              time.Time          `gorm:"column:creation_date;autoCreateTime"`
	DeliveryDate           datatypes.Date     `gorm:"column:delivery_date;not null;index"`
	DeliveryTime           datatypes.Time     `gorm:"column:delivery_time;not null"`
	DeliveryMethod         string             `gorm:"column:delivery_method;size:20;not null"`
	PrivacyStatus          string             `gorm:"column:privacy_status;size:20;not null"`
	IsDelivered            bool               `gorm:"column:is_delivered;not null;default:false"`
	IsArchived             bool               `gorm:"column:is_archived;not null;default:false"`
	IsUnlocked             bool               `gorm:"column:is_unlocked;not null;default:false"`
	TransferOnInactivity   bool               `gorm:"column:transfer_on_inactivity;not null;default:false"`
	TransferRecipientEmail string             `gorm:"column:transfer_recipient_email;size:254"`
	Contents               []*ContentEntity   `gorm:"foreignKey:CapsuleID"`
	Recipients             []*RecipientEntity `gorm:"foreignKey:CapsuleID"`
}

func (CapsuleEntity) TableName() string {
	return "capsules"
}

// ParseDeliveryDate reads a YYYY-MM-DD civil date.
func ParseDeliveryDate(s string) (datatypes.Date, error) {
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		return datatypes.Date{}, fmt.Errorf("delivery date %q: %w", s, err)
	}
	return datatypes.Date(t), nil
}

// ParseDeliveryTime reads HH:MM or HH:MM:SS. An empty value is midnight.
func ParseDeliveryTime(s string) (datatypes.Time, error) {
	if s == "" {
		s = model.DefaultDeliveryAt
	}
	t, err := time.Parse(model.TimeLayoutSeconds, s)
	if err != nil {
		t, err = time.Parse(model.TimeLayout, s)
	}
	if err != nil {
		return 0, fmt.Errorf("delivery time %q: %w", s, err)
	}
	return datatypes.NewTime(t.Hour(), t.Minute(), t.Second(), 0), nil
}

func toCapsuleEntity(c *model.Capsule) (*CapsuleEntity, error) {
	if c == nil {
		return nil, nil
	}
	date, err := ParseDeliveryDate(c.DeliveryDate)
	if err != nil {
		return nil, err
	}
	clock, err := ParseDeliveryTime(c.DeliveryTime)
	if err != nil {
		return nil, err
	}
	return &CapsuleEntity{
		ID:                     c.ID,
		OwnerID:                c.OwnerID,
		Title:                  c.Title,
		Description:            c.Description,
		CreatedAt:              c.CreatedAt,
		DeliveryDate:           date,
		DeliveryTime:           clock,
		DeliveryMethod:         string(c.DeliveryMethod),
		PrivacyStatus:          string(c.PrivacyStatus),
		IsDelivered:            c.IsDelivered,
		IsArchived:             c.IsArchived,
		IsUnlocked:             c.IsUnlocked,
		TransferOnInactivity:   c.TransferOnInactivity,
		TransferRecipientEmail: c.TransferRecipientEmail,
	}, nil
}

func toCapsuleModel(e *CapsuleEntity) *model.Capsule {
	if e == nil {
		return nil
	}
	c := &model.Capsule{
		ID:                     e.ID,
		OwnerID:                e.OwnerID,
		Title:                  e.Title,
		Description:            e.Description,
		CreatedAt:              e.CreatedAt,
		DeliveryDate:           time.Time(e.DeliveryDate).Format(model.DateLayout),
		DeliveryTime:           e.DeliveryTime.String(),
		DeliveryMethod:         model.DeliveryMethod(e.DeliveryMethod),
		PrivacyStatus:          model.PrivacyStatus(e.PrivacyStatus),
		IsDelivered:            e.IsDelivered,
		IsArchived:             e.IsArchived,
		IsUnlocked:             e.IsUnlocked,
		TransferOnInactivity:   e.TransferOnInactivity,
		TransferRecipientEmail: e.TransferRecipientEmail,
		Contents:               toContentModels(e.Contents),
		Recipients:             toRecipientModels(e.Recipients),
	}
	return c
}

func toCapsuleModels(entities []*CapsuleEntity) []*model.Capsule {
	models := make([]*model.Capsule, len(entities))
	for i, e := range entities {
		models[i] = toCapsuleModel(e)
	}
	return models
}
