package xhttp

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nimasrn/time-capsule/pkg/logger"
)

const (
	slowThreshold   = 500 * time.Millisecond
	RequestIDHeader = "X-Request-Id"
	requestIDKey    = "request_id"
)

var skipPaths = []string{"/health", "/metrics"}

type MiddlewareFunc func(next RequestHandler) RequestHandler
type RequestCtx = fasthttp.RequestCtx
type RequestHandler = fasthttp.RequestHandler

func TimeoutMiddleware(timeout time.Duration) MiddlewareFunc {
	return func(next RequestHandler) RequestHandler {
		return fasthttp.TimeoutWithCodeHandler(next, timeout, StatusText(StatusRequestTimeout), StatusRequestTimeout)
	}
}

func RecoverMiddleware(log logger.Logger) MiddlewareFunc {
	return func(next RequestHandler) RequestHandler {
		return func(ctx *RequestCtx) {
			defer func() {
				if err := recover(); err != nil {
					// ctx.Error would reset headers set by earlier middleware
					ctx.Response.ResetBody()
					ctx.Response.Header.SetContentType("text/plain; charset=utf-8")
					ctx.SetStatusCode(StatusInternalServerError)
					ctx.SetBodyString(StatusText(StatusInternalServerError))
					log.Error("[xhttp] panic recovered", "error", err, "path", string(ctx.Path()), "request_id", RequestID(ctx))
				}
			}()
			next(ctx)
		}
	}
}

// RequestIDMiddleware keeps the caller's request id or assigns a new one,
// and echoes it on the response.
func RequestIDMiddleware(next RequestHandler) RequestHandler {
	return func(ctx *RequestCtx) {
		rid := string(ctx.Request.Header.Peek(RequestIDHeader))
		if rid == "" {
			rid = uuid.NewString()
		}
		ctx.SetUserValue(requestIDKey, rid)
		ctx.Response.Header.Set(RequestIDHeader, rid)
		next(ctx)
	}
}

func RequestID(ctx *RequestCtx) string {
	if v, ok := ctx.UserValue(requestIDKey).(string); ok {
		return v
	}
	return string(ctx.Request.Header.Peek(RequestIDHeader))
}

type CORSConfig struct {
	// AllowedOrigins is a comma separated list; "*" allows any origin.
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
	MaxAge         string
}

// CORSMiddleware answers preflight requests itself and decorates the rest.
func CORSMiddleware(cfg CORSConfig) MiddlewareFunc {
	if cfg.AllowedMethods == "" {
		cfg.AllowedMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	}
	if cfg.AllowedHeaders == "" {
		cfg.AllowedHeaders = "Authorization, Content-Type, X-Request-Id"
	}
	if cfg.MaxAge == "" {
		cfg.MaxAge = "600"
	}
	var origins []string
	for _, o := range strings.Split(cfg.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	allowed := func(origin string) string {
		for _, o := range origins {
			if o == "*" {
				return "*"
			}
			if strings.EqualFold(o, origin) {
				return origin
			}
		}
		return ""
	}

	return func(next RequestHandler) RequestHandler {
		return func(ctx *RequestCtx) {
			origin := string(ctx.Request.Header.Peek("Origin"))
			if allow := allowed(origin); origin != "" && allow != "" {
				h := &ctx.Response.Header
				h.Set("Access-Control-Allow-Origin", allow)
				h.Set("Access-Control-Allow-Methods", cfg.AllowedMethods)
				h.Set("Access-Control-Allow-Headers", cfg.AllowedHeaders)
				h.Set("Access-Control-Max-Age", cfg.MaxAge)
				if allow != "*" {
					h.Set("Access-Control-Allow-Credentials", "true")
					h.Add("Vary", "Origin")
				}
			}
			if ctx.IsOptions() {
				ctx.SetStatusCode(StatusNoContent)
				return
			}
			next(ctx)
		}
	}
}

func RequestLoggerMiddleware(log logger.Logger) MiddlewareFunc {
	return func(next RequestHandler) RequestHandler {
		return func(ctx *RequestCtx) {
			path := string(ctx.Path())
			if shouldSkip(path) {
				next(ctx)
				return
			}

			start := time.Now()
			next(ctx)

			latency := time.Since(start)
			status := ctx.Response.StatusCode()
			fields := []any{
				"status", status,
				"method", string(ctx.Method()),
				"path", path,
				"latency", latency.String(),
				"bytes_in", len(ctx.Request.Body()),
				"bytes_out", len(ctx.Response.Body()),
				"ip", ctx.RemoteIP().String(),
				"request_id", RequestID(ctx),
			}

			switch {
			case status >= 500:
				log.Error("http_request", fields...)
			case status >= 400 || latency > slowThreshold:
				log.Warn("http_request", fields...)
			default:
				log.Info("http_request", fields...)
			}
		}
	}
}

func shouldSkip(p string) bool {
	for _, sp := range skipPaths {
		if strings.HasPrefix(p, sp) {
			return true
		}
	}
	return false
}
