package repository

import "github.com/nimasrn/time-capsule/internal/model"

// UserEntity maps the identity service's users table. This service only reads it.
type UserEntity struct {
	ID       int64  `gorm:"primaryKey;autoIncrement;column:id"`
	Email    string `gorm:"column:email;size:254;not null;uniqueIndex"`
	Name     string `gorm:"column:name;size:255"`
	IsActive bool   `gorm:"column:is_active;not null"`
}

func (UserEntity) TableName() string {
	return "users"
}

func toPrincipalModel(e *UserEntity) *model.Principal {
	return &model.Principal{
		ID:       e.ID,
		Email:    e.Email,
		Name:     e.Name,
		IsActive: e.IsActive,
	}
}
