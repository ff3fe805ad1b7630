package repository

import (
	"context"
	"testing"
	"time"

	"github.com/nimasrn/time-capsule/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()
	owner := createUser(t, db, "owner@example.com", "")
	other := createUser(t, db, "other@example.com", "")

	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	var ids []int64
	for i := 0; i < 3; i++ {
		n, err := repo.Create(ctx, &model.Notification{
			OwnerID:   owner.ID,
			Message:   "note",
			Type:      model.NotificationSystemAlert,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}
	_, err := repo.Create(ctx, &model.Notification{OwnerID: other.ID, Message: "not yours", Type: model.NotificationReminder})
	require.NoError(t, err)

	t.Run("list newest first", func(t *testing.T) {
		list, total, err := repo.List(ctx, model.NotificationFilter{OwnerID: owner.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, list, 3)
		assert.Equal(t, ids[2], list[0].ID)
		assert.Equal(t, ids[0], list[2].ID)
	})

	t.Run("mark read is idempotent", func(t *testing.T) {
		firstAt := base.Add(time.Hour)
		n, err := repo.MarkRead(ctx, owner.ID, ids[0], firstAt)
		require.NoError(t, err)
		assert.True(t, n.IsRead)
		require.NotNil(t, n.ReadAt)
		assert.True(t, n.ReadAt.Equal(firstAt))

		n, err = repo.MarkRead(ctx, owner.ID, ids[0], base.Add(2*time.Hour))
		require.NoError(t, err)
		assert.True(t, n.ReadAt.Equal(firstAt))
	})

	t.Run("foreign notification is not found", func(t *testing.T) {
		_, err := repo.MarkRead(ctx, other.ID, ids[1], time.Now())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("filter and counts", func(t *testing.T) {
		unread := false
		list, total, err := repo.List(ctx, model.NotificationFilter{OwnerID: owner.ID, IsRead: &unread})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, list, 2)

		count, err := repo.CountUnread(ctx, owner.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("mark all read", func(t *testing.T) {
		changed, err := repo.MarkAllRead(ctx, owner.ID, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(2), changed)

		changed, err = repo.MarkAllRead(ctx, owner.ID, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(0), changed)

		count, err := repo.CountUnread(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})
}
