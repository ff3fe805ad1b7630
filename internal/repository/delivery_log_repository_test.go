package repository

import (
	"context"
	"testing"
	"time"

	"github.com/nimasrn/time-capsule/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryLogRepository_Append(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeliveryLogRepository(db)
	ctx := context.Background()

	first := time.Date(2035, 6, 1, 9, 30, 0, 0, time.UTC)
	_, err := repo.Append(ctx, &model.DeliveryLog{
		CapsuleID:      1,
		AttemptedAt:    first,
		Method:         model.DeliveryMethodEmail,
		RecipientEmail: "friend@example.com",
		Status:         model.DeliveryLogFailure,
		ErrorMessage:   "Email sending failed.",
		Details:        "connection refused",
	})
	require.NoError(t, err)

	second, err := repo.Append(ctx, &model.DeliveryLog{
		ID:             42,
		CapsuleID:      1,
		AttemptedAt:    first.Add(2 * time.Minute),
		Method:         model.DeliveryMethodEmail,
		RecipientEmail: "friend@example.com",
		Status:         model.DeliveryLogSuccess,
	})
	require.NoError(t, err)
	assert.NotEqual(t, int64(42), second.ID, "append never overwrites")

	logs, err := repo.ListByCapsule(ctx, 1)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, model.DeliveryLogFailure, logs[0].Status)
	assert.Equal(t, "connection refused", logs[0].Details)
	assert.Equal(t, model.DeliveryLogSuccess, logs[1].Status)
}

func TestPrincipalRepository_FindByID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPrincipalRepository(db)
	ctx := context.Background()
	u := createUser(t, db, "ada@example.com", "Ada")

	p, err := repo.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.Name)
	assert.True(t, p.IsActive)

	_, err = repo.FindByID(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}
