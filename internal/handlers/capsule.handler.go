package handlers

import (
	"context"
	"mime/multipart"
	"strings"

	"github.com/nimasrn/time-capsule/internal/model"
	xhttp "github.com/nimasrn/time-capsule/pkg/http"
	"github.com/nimasrn/time-capsule/pkg/logger"
)

type CapsuleService interface {
	Create(ctx context.Context, req model.CapsuleCreateRequest) (*model.Capsule, error)
	List(ctx context.Context, ownerID int64, limit, offset int) ([]*model.Capsule, int64, error)
	Get(ctx context.Context, ownerID, id int64) (*model.Capsule, error)
	Delete(ctx context.Context, ownerID, id int64) (*model.Capsule, error)
}

type CapsuleHandler struct {
	svc CapsuleService
	log logger.Logger
}

func NewCapsuleHandler(svc CapsuleService, log logger.Logger) *CapsuleHandler {
	return &CapsuleHandler{svc: svc, log: log}
}

func RegisterCapsuleRoutes(g *xhttp.Group, h *CapsuleHandler, auth xhttp.MiddlewareFunc) {
	g.POST("/capsules", auth(h.CreateCapsule))
	g.GET("/capsules", auth(h.ListCapsules))
	g.GET("/capsules/{id}", auth(h.GetCapsule))
	g.DELETE("/capsules/{id}", auth(h.DeleteCapsule))
}

func (h *CapsuleHandler) CreateCapsule(ctx *xhttp.RequestCtx) {
	principal := PrincipalFrom(ctx)

	form, err := ctx.MultipartForm()
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "expected a multipart form")
		return
	}
	defer ctx.Request.RemoveMultipartFormFiles()

	value := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	req := model.CapsuleCreateRequest{
		OwnerID:                principal.ID,
		Title:                  value("title"),
		Description:            value("description"),
		DeliveryDate:           value("delivery_date"),
		DeliveryTime:           value("delivery_time"),
		DeliveryMethod:         model.DeliveryMethod(value("delivery_method")),
		PrivacyStatus:          model.PrivacyStatus(value("privacy_status")),
		TextContent:            strings.TrimSpace(value("text_content")),
		RecipientEmail:         value("recipient_email"),
		TransferOnInactivity:   formBool(value("transfer_on_inactivity")),
		TransferRecipientEmail: value("transfer_recipient_email"),
	}

	files, err := openUploads(form.File["media_files"])
	defer closeAll(files)
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "unreadable upload")
		return
	}
	for i, f := range files {
		fh := form.File["media_files"][i]
		req.Files = append(req.Files, model.Upload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
		})
	}

	capsule, err := h.svc.Create(ctx, req)
	if err != nil {
		writeServiceError(ctx, h.log, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, capsule)
}

func (h *CapsuleHandler) ListCapsules(ctx *xhttp.RequestCtx) {
	principal := PrincipalFrom(ctx)
	items, total, err := h.svc.List(ctx, principal.ID, queryInt(ctx, "limit"), queryInt(ctx, "offset"))
	if err != nil {
		writeServiceError(ctx, h.log, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, listResponse[*model.Capsule]{Items: items, Total: total})
}

func (h *CapsuleHandler) GetCapsule(ctx *xhttp.RequestCtx) {
	id, ok := pathInt64(ctx, "id")
	if !ok {
		writeError(ctx, xhttp.StatusNotFound, "not found")
		return
	}
	capsule, err := h.svc.Get(ctx, PrincipalFrom(ctx).ID, id)
	if err != nil {
		writeServiceError(ctx, h.log, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, capsule)
}

func (h *CapsuleHandler) DeleteCapsule(ctx *xhttp.RequestCtx) {
	id, ok := pathInt64(ctx, "id")
	if !ok {
		writeError(ctx, xhttp.StatusNotFound, "not found")
		return
	}
	if _, err := h.svc.Delete(ctx, PrincipalFrom(ctx).ID, id); err != nil {
		writeServiceError(ctx, h.log, err)
		return
	}
	ctx.Response.SetStatusCode(xhttp.StatusNoContent)
}

func openUploads(headers []*multipart.FileHeader) ([]multipart.File, error) {
	files := make([]multipart.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return files, err
		}
		files = append(files, f)
	}
	return files, nil
}

func closeAll(files []multipart.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func formBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
