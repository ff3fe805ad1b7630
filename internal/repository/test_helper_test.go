package repository

import (
	"context"
	"testing"

	"github.com/nimasrn/time-capsule/internal/model"
	"github.com/nimasrn/time-capsule/pkg/pg"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), pg.GormConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a new database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(Entities()...))

	return pg.NewFromGorm(db, db)
}

func createUser(t *testing.T, db *pg.DB, email, name string) *UserEntity {
	u := &UserEntity{Email: email, Name: name, IsActive: true}
	require.NoError(t, db.Write(context.Background()).Create(u).Error)
	return u
}

func newCapsule(ownerID int64) *model.Capsule {
	return &model.Capsule{
		OwnerID:        ownerID,
		Title:          "Letter to future me",
		Description:    "open in ten years",
		DeliveryDate:   "2035-06-01",
		DeliveryTime:   "09:30",
		DeliveryMethod: model.DeliveryMethodEmail,
		PrivacyStatus:  model.PrivacyPrivate,
	}
}
