package services

import (
	"context"
	"time"

	"github.com/nimasrn/time-capsule/internal/model"
)

type NotificationStore interface {
	List(ctx context.Context, f model.NotificationFilter) ([]*model.Notification, int64, error)
	CountUnread(ctx context.Context, ownerID int64) (int64, error)
	MarkRead(ctx context.Context, ownerID, id int64, at time.Time) (*model.Notification, error)
	MarkAllRead(ctx context.Context, ownerID int64, at time.Time) (int64, error)
}

type NotificationService struct {
	repo NotificationStore
	now  func() time.Time
}

func NewNotificationService(repo NotificationStore) *NotificationService {
	return &NotificationService{repo: repo, now: time.Now}
}

func (s *NotificationService) List(ctx context.Context, f model.NotificationFilter) ([]*model.Notification, int64, error) {
	return s.repo.List(ctx, f)
}

func (s *NotificationService) UnreadCount(ctx context.Context, ownerID int64) (int64, error) {
	return s.repo.CountUnread(ctx, ownerID)
}

// MarkRead is idempotent; a notification keeps its first read_at.
func (s *NotificationService) MarkRead(ctx context.Context, ownerID, id int64) (*model.Notification, error) {
	n, err := s.repo.MarkRead(ctx, ownerID, id, s.now())
	if err != nil {
		return nil, mapNotFound(err)
	}
	return n, nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, ownerID int64) (int64, error) {
	return s.repo.MarkAllRead(ctx, ownerID, s.now())
}
