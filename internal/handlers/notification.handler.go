package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/nimasrn/time-capsule/internal/model"
	xhttp "github.com/nimasrn/time-capsule/pkg/http"
	"github.com/nimasrn/time-capsule/pkg/logger"
)

type NotificationService interface {
	List(ctx context.Context, f model.NotificationFilter) ([]*model.Notification, int64, error)
	UnreadCount(ctx context.Context, ownerID int64) (int64, error)
	MarkRead(ctx context.Context, ownerID, id int64) (*model.Notification, error)
	MarkAllRead(ctx context.Context, ownerID int64) (int64, error)
}

type NotificationHandler struct {
	svc NotificationService
	log logger.Logger
}

func NewNotificationHandler(svc NotificationService, log logger.Logger) *NotificationHandler {
	return &NotificationHandler{svc: svc, log: log}
}

func RegisterNotificationRoutes(g *xhttp.Group, h *NotificationHandler, auth xhttp.MiddlewareFunc) {
	g.GET("/notifications", auth(h.ListNotifications))
	g.GET("/notifications/unread-count", auth(h.UnreadCount))
	g.POST("/notifications/mark-all-read", auth(h.MarkAllRead))
	g.POST("/notifications/{id}/mark-read", auth(h.MarkRead))
}

func (h *NotificationHandler) ListNotifications(ctx *xhttp.RequestCtx) {
	f := model.NotificationFilter{
		OwnerID: PrincipalFrom(ctx).ID,
		Limit:   queryInt(ctx, "limit"),
		Offset:  queryInt(ctx, "offset"),
	}
	// any other value lists everything
	switch strings.ToLower(query(ctx, "is_read")) {
	case "true":
		read := true
		f.IsRead = &read
	case "false":
		read := false
		f.IsRead = &read
	}

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeServiceError(ctx, h.log, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, listResponse[*model.Notification]{Items: items, Total: total})
}

func (h *NotificationHandler) UnreadCount(ctx *xhttp.RequestCtx) {
	count, err := h.svc.UnreadCount(ctx, PrincipalFrom(ctx).ID)
	if err != nil {
		writeServiceError(ctx, h.log, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, map[string]int64{"unread_count": count})
}

func (h *NotificationHandler) MarkRead(ctx *xhttp.RequestCtx) {
	id, ok := pathInt64(ctx, "id")
	if !ok {
		writeError(ctx, xhttp.StatusNotFound, "not found")
		return
	}
	n, err := h.svc.MarkRead(ctx, PrincipalFrom(ctx).ID, id)
	if err != nil {
		writeServiceError(ctx, h.log, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, n)
}

func (h *NotificationHandler) MarkAllRead(ctx *xhttp.RequestCtx) {
	count, err := h.svc.MarkAllRead(ctx, PrincipalFrom(ctx).ID)
	if err != nil {
		writeServiceError(ctx, h.log, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, map[string]string{"message": fmt.Sprintf("%d notifications marked as read.", count)})
}
