package handlers

import (
	"bytes"

	"github.com/nimasrn/time-capsule/internal/model"
	xhttp "github.com/nimasrn/time-capsule/pkg/http"
	"github.com/nimasrn/time-capsule/pkg/jwtutil"
	"github.com/nimasrn/time-capsule/pkg/logger"
)

const principalKey = "principal"

type TokenVerifier interface {
	ParseAndValidate(token string) (*jwtutil.Claims, error)
}

// Authenticate wraps a route so it only runs for a valid bearer token of an
// active account. The principal is stored on the request context.
func Authenticate(v TokenVerifier, log logger.Logger) xhttp.MiddlewareFunc {
	return func(next xhttp.RequestHandler) xhttp.RequestHandler {
		return func(ctx *xhttp.RequestCtx) {
			header := ctx.Request.Header.Peek("Authorization")
			token, ok := bytes.CutPrefix(header, []byte("Bearer "))
			if !ok || len(token) == 0 {
				writeError(ctx, xhttp.StatusUnauthorized, "Authentication credentials were not provided.")
				return
			}

			claims, err := v.ParseAndValidate(string(bytes.TrimSpace(token)))
			if err != nil {
				log.Debug("rejected bearer token", "error", err, "request_id", xhttp.RequestID(ctx))
				writeError(ctx, xhttp.StatusUnauthorized, "Given token not valid.")
				return
			}
			if !claims.Active {
				writeError(ctx, xhttp.StatusForbidden, "User account is disabled.")
				return
			}

			ctx.SetUserValue(principalKey, &model.Principal{
				ID:       claims.UserID,
				Email:    claims.Email,
				Name:     claims.Name,
				IsActive: claims.Active,
			})
			next(ctx)
		}
	}
}

// PrincipalFrom returns the authenticated principal, nil outside
// Authenticate.
func PrincipalFrom(ctx *xhttp.RequestCtx) *model.Principal {
	p, _ := ctx.UserValue(principalKey).(*model.Principal)
	return p
}
