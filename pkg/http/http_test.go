package xhttp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"

	"github.com/nimasrn/time-capsule/pkg/logger"
)

func newCtx(method, path string) *RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	return ctx
}

func TestEngine_MiddlewareOrderAndNotFound(t *testing.T) {
	e := NewServer(ServerOption{}, logger.Nop())
	var order []string
	mark := func(name string) MiddlewareFunc {
		return func(next RequestHandler) RequestHandler {
			return func(ctx *RequestCtx) {
				order = append(order, name)
				next(ctx)
			}
		}
	}
	e.Use(mark("first"))
	e.Use(mark("second"))
	e.GET("/ping", func(ctx *RequestCtx) { ctx.SetBodyString("pong") })
	h := e.Handler()

	ctx := newCtx("GET", "/ping")
	h(ctx)
	assert.Equal(t, "pong", string(ctx.Response.Body()))
	assert.Equal(t, []string{"first", "second"}, order)

	ctx = newCtx("GET", "/missing")
	h(ctx)
	assert.Equal(t, StatusNotFound, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"error":"not found"}`, string(ctx.Response.Body()))
}

func TestCORSMiddleware(t *testing.T) {
	called := false
	h := CORSMiddleware(CORSConfig{AllowedOrigins: "https://app.test, https://admin.test"})(func(ctx *RequestCtx) {
		called = true
	})

	ctx := newCtx("OPTIONS", "/api/v1/capsules")
	ctx.Request.Header.Set("Origin", "https://app.test")
	h(ctx)
	assert.False(t, called)
	assert.Equal(t, StatusNoContent, ctx.Response.StatusCode())
	assert.Equal(t, "https://app.test", string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")))
	assert.Equal(t, "true", string(ctx.Response.Header.Peek("Access-Control-Allow-Credentials")))

	ctx = newCtx("GET", "/api/v1/capsules")
	ctx.Request.Header.Set("Origin", "https://evil.test")
	h(ctx)
	assert.True(t, called)
	assert.Empty(t, ctx.Response.Header.Peek("Access-Control-Allow-Origin"))

	wildcard := CORSMiddleware(CORSConfig{AllowedOrigins: "*"})(func(*RequestCtx) {})
	ctx = newCtx("GET", "/")
	ctx.Request.Header.Set("Origin", "https://whoever.test")
	wildcard(ctx)
	assert.Equal(t, "*", string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")))
}

func TestRequestIDAndRecover(t *testing.T) {
	h := RequestIDMiddleware(RecoverMiddleware(logger.Nop())(func(ctx *RequestCtx) {
		panic("boom")
	}))

	ctx := newCtx("GET", "/")
	ctx.Request.Header.Set(RequestIDHeader, "abc")
	h(ctx)
	assert.Equal(t, StatusInternalServerError, ctx.Response.StatusCode())
	assert.Equal(t, "abc", string(ctx.Response.Header.Peek(RequestIDHeader)))
	assert.Equal(t, "abc", RequestID(ctx))

	assert.Equal(t, StatusText(StatusInternalServerError), string(ctx.Response.Body()))

	ctx = newCtx("GET", "/")
	h(ctx)
	assert.Len(t, RequestID(ctx), 36)
	assert.Equal(t, RequestID(ctx), string(ctx.Response.Header.Peek(RequestIDHeader)))

	cors := CORSMiddleware(CORSConfig{AllowedOrigins: "*"})(h)
	ctx = newCtx("GET", "/")
	ctx.Request.Header.Set("Origin", "https://app.test")
	cors(ctx)
	assert.Equal(t, StatusInternalServerError, ctx.Response.StatusCode())
	assert.NotEmpty(t, ctx.Response.Header.Peek("Access-Control-Allow-Origin"))
}

func TestServerOption_Merge(t *testing.T) {
	o := ServerOption{MaxRequestBodySize: 10}.Merge(DefaultServerOption())
	assert.Equal(t, 10, o.MaxRequestBodySize)
	assert.Equal(t, DefaultServerOption().ReadTimeout, o.ReadTimeout)
	assert.Equal(t, "time-capsule", o.Name)
}
