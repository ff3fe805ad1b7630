package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateRecipient is returned when the email is already a recipient of the capsule.
	ErrDuplicateRecipient = errors.New("recipient already added to capsule")
)

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func pageLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 50
	}
	return limit
}

// Entities lists every table this service owns plus the users read model,
// in dependency order. Tests auto-migrate them; production uses goose.
func Entities() []interface{} {
	return []interface{}{
		&UserEntity{},
		&CapsuleEntity{},
		&ContentEntity{},
		&RecipientEntity{},
		&DeliveryLogEntity{},
		&NotificationEntity{},
	}
}
