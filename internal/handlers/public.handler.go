package handlers

import (
	"context"

	"github.com/nimasrn/time-capsule/internal/model"
	xhttp "github.com/nimasrn/time-capsule/pkg/http"
	"github.com/nimasrn/time-capsule/pkg/logger"
)

type PublicCapsuleService interface {
	Open(ctx context.Context, token string) (*model.PublicCapsule, error)
}

type PublicCapsuleHandler struct {
	svc PublicCapsuleService
	log logger.Logger
}

func NewPublicCapsuleHandler(svc PublicCapsuleService, log logger.Logger) *PublicCapsuleHandler {
	return &PublicCapsuleHandler{svc: svc, log: log}
}

func RegisterPublicRoutes(g *xhttp.Group, h *PublicCapsuleHandler) {
	g.GET("/public/capsules/{token}", h.OpenCapsule)
}

// OpenCapsule needs no credentials; the token is the credential.
func (h *PublicCapsuleHandler) OpenCapsule(ctx *xhttp.RequestCtx) {
	token, _ := ctx.UserValue("token").(string)
	view, err := h.svc.Open(ctx, token)
	if err != nil {
		writeServiceError(ctx, h.log, err)
		return
	}
	ctx.Response.Header.Set("Cache-Control", "no-store")
	writeJSON(ctx, xhttp.StatusOK, view)
}
